package di

import (
	"context"
	"fmt"
	"sync"

	"paypipe/internal/clients/datadog"
	"paypipe/internal/config"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/adapters"
	"paypipe/internal/pipeline/ports"
	"paypipe/internal/pipeline/service"
	"paypipe/internal/pipeline/stages"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies
type Container struct {
	cfg           *config.Config
	logger        *logging.Logger
	transactions  ports.TransactionStore
	tokens        ports.TokenStore
	accounts      ports.AccountLookup
	rates         ports.RateSource
	auditStore    ports.AuditStore
	auditLogger   *service.AuditLogger
	datadogClient datadog.DatadogInterface
	orchestrator  *service.Orchestrator
	fx            *stages.FXConverter
	tokenHandler  *stages.TokenHandler
	pool          *pgxpool.Pool
	redisClient   redis.UniversalClient
	mu            sync.RWMutex
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{logger: logging.NewDefaultLogger("di")}
}

// Initialize builds the stores for the configured backend, the audit sink,
// the stages and the orchestrator
func (c *Container) Initialize(ctx context.Context, cfg *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	c.datadogClient = datadog.NewDatadogClient(cfg.Datadog)

	if err := c.initStores(ctx, cfg); err != nil {
		c.closeLocked()
		return err
	}
	if err := c.initAudit(ctx, cfg); err != nil {
		c.closeLocked()
		return err
	}

	deps := stages.Dependencies{
		Rates:        c.rates,
		Transactions: c.transactions,
		Tokens:       c.tokens,
		Accounts:     c.accounts,
		Logger:       logging.NewDefaultLogger("stage"),
	}
	registered, err := stages.Build(cfg, deps)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("failed to build stages: %w", err)
	}

	// standalone instances back the token and rates commands even when the
	// stage is not registered with the pipeline
	if c.fx, err = stages.NewFXConverter(cfg.FX, deps); err != nil {
		c.closeLocked()
		return err
	}
	if c.tokenHandler, err = stages.NewTokenHandler(cfg.Token, deps); err != nil {
		c.closeLocked()
		return err
	}

	c.auditLogger = service.NewAuditLogger(c.auditStore, cfg.Pipeline.AuditTimeout, logging.NewDefaultLogger("audit"))
	c.orchestrator, err = service.NewOrchestrator(cfg.Pipeline.StageOrder, registered, c.auditLogger,
		service.WithTransactionStore(c.transactions),
		service.WithStageTimeout(cfg.Pipeline.StageTimeout),
		service.WithLogger(logging.NewDefaultLogger("pipeline")),
	)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	c.logger.Debug("Initialized backend=%s audit=%s stages=%d", cfg.Storage.Backend, cfg.Audit.Sink, len(registered))
	return nil
}

// initStores wires the ports for the storage backend. The redis backend keeps
// tokens and rates in redis; the postgres backend keeps transactions and
// accounts in postgres and tokens and rates in redis.
func (c *Container) initStores(ctx context.Context, cfg *config.Config) error {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		c.transactions = adapters.NewMemoryTransactionStore()
		c.accounts = adapters.NewMemoryAccountLookup()
		c.tokens = adapters.NewMemoryTokenStore()
		c.rates = adapters.NewStaticRateSource(cfg.FX.Rates)
		return nil

	case config.BackendRedis:
		c.transactions = adapters.NewMemoryTransactionStore()
		c.accounts = adapters.NewMemoryAccountLookup()
		return c.initRedis(ctx, cfg)

	case config.BackendPostgres:
		pool, err := c.postgresPool(ctx, cfg)
		if err != nil {
			return err
		}
		c.transactions = adapters.NewPostgresTransactionStore(pool)
		c.accounts = adapters.NewPostgresAccountLookup(pool)
		return c.initRedis(ctx, cfg)
	}
	return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func (c *Container) initRedis(ctx context.Context, cfg *config.Config) error {
	c.redisClient = adapters.NewRedisClient(cfg.Storage)
	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Storage.RedisAddr, err)
	}
	c.tokens = adapters.NewRedisTokenStore(c.redisClient)
	rates := adapters.NewRedisRateSource(c.redisClient)
	if err := rates.Seed(ctx, cfg.FX.Rates); err != nil {
		return fmt.Errorf("failed to seed rates: %w", err)
	}
	c.rates = rates
	return nil
}

func (c *Container) initAudit(ctx context.Context, cfg *config.Config) error {
	switch cfg.Audit.Sink {
	case config.SinkMemory:
		c.auditStore = adapters.NewMemoryAuditStore()
	case config.SinkLog:
		c.auditStore = adapters.NewLogAuditStore(logging.NewDefaultLogger("audit"))
	case config.SinkPostgres:
		pool, err := c.postgresPool(ctx, cfg)
		if err != nil {
			return err
		}
		c.auditStore = adapters.NewPostgresAuditStore(pool)
	case config.SinkDatadog:
		c.auditStore = adapters.NewDatadogAuditStore(c.datadogClient, cfg.Environment)
	default:
		return fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
	}
	return nil
}

// postgresPool opens the shared pool once and applies the schema
func (c *Container) postgresPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	pool, err := adapters.NewPostgresPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := adapters.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

// Close releases database and redis connections
func (c *Container) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Container) closeLocked() {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.logger.Warn("Failed to close redis client: %v", err)
		}
		c.redisClient = nil
	}
}

// Orchestrator returns the pipeline orchestrator
func (c *Container) Orchestrator() *service.Orchestrator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orchestrator
}

// DatadogClient returns the Datadog client instance
func (c *Container) DatadogClient() datadog.DatadogInterface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.datadogClient
}

// ClientSet contains all dependencies handed to commands
type ClientSet struct {
	Config       *config.Config
	Orchestrator *service.Orchestrator
	Transactions ports.TransactionStore
	Tokens       ports.TokenStore
	Accounts     ports.AccountLookup
	Audit        *service.AuditLogger
	Datadog      datadog.DatadogInterface
	FX           *stages.FXConverter
	TokenHandler *stages.TokenHandler
}

// GetClientSet returns all clients as a convenient struct
func (c *Container) GetClientSet() *ClientSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &ClientSet{
		Config:       c.cfg,
		Orchestrator: c.orchestrator,
		Transactions: c.transactions,
		Tokens:       c.tokens,
		Accounts:     c.accounts,
		Audit:        c.auditLogger,
		Datadog:      c.datadogClient,
		FX:           c.fx,
		TokenHandler: c.tokenHandler,
	}
}

// AuditQuery is the Datadog log search that selects a transaction's records
func (cs *ClientSet) AuditQuery(transactionID string) string {
	return adapters.NewDatadogAuditStore(cs.Datadog, cs.Config.Environment).Query(transactionID)
}
