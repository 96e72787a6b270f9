package stages

import (
	"context"
	"fmt"

	"paypipe/internal/config"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/pipeline/ports"
)

// Stage is one pluggable unit of the pipeline.
//
// Stages receive copies of the transaction and context and must not rely on
// mutating them; every change goes back to the orchestrator as a patch inside
// the StageResult.
type Stage interface {
	Name() string
	Version() string
	Description() string

	// IsEnabled gates the stage. It must be free of side effects.
	IsEnabled(txn domain.Transaction, pctx *domain.ProcessingContext) bool

	// Process executes the stage. It may write to durable stores.
	Process(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (*domain.StageResult, error)

	// IsCritical decides whether a Process failure halts the run
	IsCritical(txn domain.Transaction, pctx *domain.ProcessingContext) bool
}

// baseStage carries the identity shared by every concrete stage
type baseStage struct {
	name        string
	version     string
	description string
}

func (b baseStage) Name() string        { return b.name }
func (b baseStage) Version() string     { return b.version }
func (b baseStage) Description() string { return b.description }

// Dependencies are the collaborators stages are built from
type Dependencies struct {
	Rates        ports.RateSource
	Transactions ports.TransactionStore
	Tokens       ports.TokenStore
	Accounts     ports.AccountLookup
	Clock        ports.Clock
	Logger       *logging.Logger
}

func (d Dependencies) clock() ports.Clock {
	if d.Clock == nil {
		return ports.SystemClock{}
	}
	return d.Clock
}

func (d Dependencies) logger(prefix string) *logging.Logger {
	if d.Logger == nil {
		return logging.NewDefaultLogger(prefix)
	}
	return d.Logger.WithPrefix(prefix)
}

// Constructor builds a stage from configuration and collaborators
type Constructor func(cfg *config.Config, deps Dependencies) (Stage, error)

// Catalog enumerates every stage implementation compiled into the binary
var Catalog = map[string]Constructor{
	config.StageFXConverter: func(cfg *config.Config, deps Dependencies) (Stage, error) {
		return NewFXConverter(cfg.FX, deps)
	},
	config.StageRiskChecker: func(cfg *config.Config, deps Dependencies) (Stage, error) {
		return NewRiskChecker(cfg.Risk, cfg.FX.BaseCurrency, deps)
	},
	config.StageTokenHandler: func(cfg *config.Config, deps Dependencies) (Stage, error) {
		return NewTokenHandler(cfg.Token, deps)
	},
}

// Build instantiates the enabled stages in configured order
func Build(cfg *config.Config, deps Dependencies) ([]Stage, error) {
	var out []Stage
	for _, name := range cfg.Pipeline.StageOrder {
		if !cfg.Pipeline.IsEnabled(name) {
			continue
		}
		ctor, ok := Catalog[name]
		if !ok {
			return nil, fmt.Errorf("no implementation for stage %q", name)
		}
		stage, err := ctor(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to build stage %s: %w", name, err)
		}
		out = append(out, stage)
	}
	return out, nil
}
