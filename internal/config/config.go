package config

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"time"
	_ "time/tzdata"

	"paypipe/internal/errors"
)

// Stage names known to the pipeline
const (
	StageFXConverter  = "fx_converter"
	StageRiskChecker  = "risk_checker"
	StageTokenHandler = "token_handler"
)

// KnownStages lists every stage the binary can build
var KnownStages = []string{StageFXConverter, StageRiskChecker, StageTokenHandler}

// Storage backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Audit sinks
const (
	SinkMemory   = "memory"
	SinkLog      = "log"
	SinkPostgres = "postgres"
	SinkDatadog  = "datadog"
)

// Config is the full configuration surface of the pipeline
type Config struct {
	Environment string         `yaml:"environment" mapstructure:"environment"`
	Log         LogConfig      `yaml:"log" mapstructure:"log"`
	Pipeline    PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	FX          FXConfig       `yaml:"fx" mapstructure:"fx"`
	Risk        RiskConfig     `yaml:"risk" mapstructure:"risk"`
	Token       TokenConfig    `yaml:"token" mapstructure:"token"`
	Storage     StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Audit       AuditConfig    `yaml:"audit" mapstructure:"audit"`
	Datadog     DatadogConfig  `yaml:"datadog" mapstructure:"datadog"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PipelineConfig fixes the stage order and which stages get registered
type PipelineConfig struct {
	StageOrder    []string      `yaml:"stage_order" mapstructure:"stage_order"`
	EnabledStages []string      `yaml:"enabled_stages" mapstructure:"enabled_stages"`
	StageTimeout  time.Duration `yaml:"stage_timeout" mapstructure:"stage_timeout"`
	AuditTimeout  time.Duration `yaml:"audit_timeout" mapstructure:"audit_timeout"`
	BatchWorkers  int           `yaml:"batch_workers" mapstructure:"batch_workers"`
}

// IsEnabled reports whether stage is in the enabled set
func (p PipelineConfig) IsEnabled(stage string) bool {
	return slices.Contains(p.EnabledStages, stage)
}

// RateEntry is one configured exchange rate
type RateEntry struct {
	From string  `yaml:"from" mapstructure:"from"`
	To   string  `yaml:"to" mapstructure:"to"`
	Rate float64 `yaml:"rate" mapstructure:"rate"`
}

type FXConfig struct {
	BaseCurrency string      `yaml:"base_currency" mapstructure:"base_currency"`
	HubCurrency  string      `yaml:"hub_currency" mapstructure:"hub_currency"`
	FeeRate      float64     `yaml:"fee_rate" mapstructure:"fee_rate"`
	Rates        []RateEntry `yaml:"rates" mapstructure:"rates"`
}

// RiskWeights are the per-factor multipliers of the composite score
type RiskWeights struct {
	Amount   float64 `yaml:"amount" mapstructure:"amount"`
	Velocity float64 `yaml:"velocity" mapstructure:"velocity"`
	Time     float64 `yaml:"time" mapstructure:"time"`
	Merchant float64 `yaml:"merchant" mapstructure:"merchant"`
	Location float64 `yaml:"location" mapstructure:"location"`
	User     float64 `yaml:"user" mapstructure:"user"`
}

// Sum adds the six weights
func (w RiskWeights) Sum() float64 {
	return w.Amount + w.Velocity + w.Time + w.Merchant + w.Location + w.User
}

type RiskConfig struct {
	HighValueAmount            float64       `yaml:"high_value_amount" mapstructure:"high_value_amount"`
	MediumValueAmount          float64       `yaml:"medium_value_amount" mapstructure:"medium_value_amount"`
	VelocityWindow             time.Duration `yaml:"velocity_window" mapstructure:"velocity_window"`
	VelocityMaxCount           int           `yaml:"velocity_max_count" mapstructure:"velocity_max_count"`
	VelocityMaxAmount          float64       `yaml:"velocity_max_amount" mapstructure:"velocity_max_amount"`
	OffHoursStart              int           `yaml:"off_hours_start" mapstructure:"off_hours_start"`
	OffHoursEnd                int           `yaml:"off_hours_end" mapstructure:"off_hours_end"`
	Timezone                   string        `yaml:"timezone" mapstructure:"timezone"`
	NewAccountAge              time.Duration `yaml:"new_account_age" mapstructure:"new_account_age"`
	SuspiciousMerchantPatterns []string      `yaml:"suspicious_merchant_patterns" mapstructure:"suspicious_merchant_patterns"`
	BlockedCountries           []string      `yaml:"blocked_countries" mapstructure:"blocked_countries"`
	Weights                    RiskWeights   `yaml:"weights" mapstructure:"weights"`
}

type TokenConfig struct {
	MinAmount               float64  `yaml:"min_amount" mapstructure:"min_amount"`
	MaxAmount               float64  `yaml:"max_amount" mapstructure:"max_amount"`
	MaxExpiryHours          int      `yaml:"max_expiry_hours" mapstructure:"max_expiry_hours"`
	DefaultExpiryHours      int      `yaml:"default_expiry_hours" mapstructure:"default_expiry_hours"`
	RestrictedMerchantTypes []string `yaml:"restricted_merchant_types" mapstructure:"restricted_merchant_types"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend" mapstructure:"backend"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	PostgresDSN   string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
}

type AuditConfig struct {
	Sink string `yaml:"sink" mapstructure:"sink"`
}

type DatadogConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	AppURL  string `yaml:"app_url" mapstructure:"app_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	AppKey  string `yaml:"app_key" mapstructure:"app_key"`
	Service string `yaml:"service" mapstructure:"service"`
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	for _, name := range c.Pipeline.StageOrder {
		if !slices.Contains(KnownStages, name) {
			return errors.Configuration(fmt.Sprintf("unknown stage %q in stage_order", name))
		}
	}
	for _, name := range c.Pipeline.EnabledStages {
		if !slices.Contains(c.Pipeline.StageOrder, name) {
			return errors.Configuration(fmt.Sprintf("enabled stage %q is not in stage_order", name))
		}
	}
	if c.Pipeline.StageTimeout <= 0 {
		return errors.Configuration("pipeline.stage_timeout must be positive")
	}
	if c.Pipeline.AuditTimeout <= 0 {
		return errors.Configuration("pipeline.audit_timeout must be positive")
	}
	if len(c.FX.BaseCurrency) != 3 || len(c.FX.HubCurrency) != 3 {
		return errors.Configuration("fx.base_currency and fx.hub_currency must be 3-letter codes")
	}
	for _, r := range c.FX.Rates {
		if r.Rate <= 0 {
			return errors.Configuration(fmt.Sprintf("rate %s->%s must be positive", r.From, r.To))
		}
	}
	if c.Risk.HighValueAmount <= 0 || c.Risk.MediumValueAmount <= 0 ||
		c.Risk.MediumValueAmount >= c.Risk.HighValueAmount {
		return errors.Configuration("risk thresholds must satisfy 0 < medium_value_amount < high_value_amount")
	}
	if c.Risk.VelocityMaxCount <= 0 || c.Risk.VelocityMaxAmount <= 0 || c.Risk.VelocityWindow <= 0 {
		return errors.Configuration("risk velocity ceilings and window must be positive")
	}
	if c.Risk.OffHoursStart < 0 || c.Risk.OffHoursStart > 23 || c.Risk.OffHoursEnd < 0 || c.Risk.OffHoursEnd > 24 {
		return errors.Configuration("risk off-hours window must use hours 0-24")
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfiguration, "invalid risk.timezone")
	}
	for _, p := range c.Risk.SuspiciousMerchantPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfiguration, fmt.Sprintf("invalid merchant pattern %q", p))
		}
	}
	if math.Abs(c.Risk.Weights.Sum()-1.0) > 1e-6 {
		return errors.Configuration(fmt.Sprintf("risk weights must sum to 1.0, got %.4f", c.Risk.Weights.Sum()))
	}
	if c.Token.MinAmount <= 0 || c.Token.MaxAmount < c.Token.MinAmount {
		return errors.Configuration("token bounds must satisfy 0 < min_amount <= max_amount")
	}
	if c.Token.MaxExpiryHours < 1 || c.Token.DefaultExpiryHours < 1 || c.Token.DefaultExpiryHours > c.Token.MaxExpiryHours {
		return errors.Configuration("token expiry must satisfy 1 <= default_expiry_hours <= max_expiry_hours")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return errors.Configuration(fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}
	switch c.Audit.Sink {
	case SinkMemory, SinkLog, SinkPostgres, SinkDatadog:
	default:
		return errors.Configuration(fmt.Sprintf("unknown audit sink %q", c.Audit.Sink))
	}
	return nil
}
