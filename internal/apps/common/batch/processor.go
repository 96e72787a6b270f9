package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"paypipe/internal/logging"
	"paypipe/internal/pipeline/ports"
	"paypipe/internal/pipeline/service"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Outcome summarises one processed transaction
type Outcome struct {
	Index       int           `yaml:"index"`
	ID          string        `yaml:"id"`
	Success     bool          `yaml:"success"`
	Cancelled   bool          `yaml:"cancelled,omitempty"`
	Status      string        `yaml:"status,omitempty"`
	HaltedAt    string        `yaml:"halted_at,omitempty"`
	Stages      []StageLine   `yaml:"stages,omitempty"`
	Errors      []string      `yaml:"errors,omitempty"`
	AuditErrors int           `yaml:"audit_errors,omitempty"`
	Duration    time.Duration `yaml:"duration"`
}

// StageLine is one stage entry of an Outcome
type StageLine struct {
	Name    string `yaml:"name"`
	Outcome string `yaml:"outcome"`
	Action  string `yaml:"action,omitempty"`
}

// Processor runs independent pipeline runs concurrently. Each transaction is
// owned by exactly one worker for the whole run.
type Processor struct {
	orchestrator *service.Orchestrator
	transactions ports.TransactionStore
	workers      int
	logger       *logging.Logger
}

func NewProcessor(orchestrator *service.Orchestrator, transactions ports.TransactionStore, workers int, logger *logging.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewDefaultLogger("batch")
	}
	return &Processor{orchestrator: orchestrator, transactions: transactions, workers: workers, logger: logger}
}

// Submit creates the transaction and runs it through the pipeline
func (p *Processor) Submit(ctx context.Context, in TransactionInput) (*service.PipelineResult, error) {
	txn, err := in.Transaction()
	if err != nil {
		return nil, err
	}
	pctx, err := in.ProcessingContext()
	if err != nil {
		return nil, err
	}
	if p.transactions != nil {
		if err := p.transactions.Create(ctx, txn); err != nil {
			return nil, fmt.Errorf("failed to create transaction %s: %w", txn.ID, err)
		}
	}
	return p.orchestrator.Run(ctx, txn, pctx), nil
}

// Process runs every input and returns the outcomes in input order. Inputs
// not yet started when ctx is cancelled are reported as cancelled.
func (p *Processor) Process(ctx context.Context, inputs []TransactionInput) []Outcome {
	outcomes := make([]Outcome, len(inputs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, in := range inputs {
		g.Go(func() error {
			outcomes[i] = p.processOne(ctx, i, in)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (p *Processor) processOne(ctx context.Context, index int, in TransactionInput) Outcome {
	out := Outcome{Index: index, ID: in.ID}
	if err := ctx.Err(); err != nil {
		out.Cancelled = true
		out.Errors = []string{err.Error()}
		return out
	}

	res, err := p.Submit(ctx, in)
	if err != nil {
		p.logger.Warn("Transaction %d rejected: %v", index, err)
		out.Errors = []string{err.Error()}
		return out
	}
	return Summarize(index, res)
}

// Summarize renders a pipeline result as an Outcome
func Summarize(index int, res *service.PipelineResult) Outcome {
	out := Outcome{
		Index:       index,
		ID:          res.Transaction.ID,
		Success:     res.Success,
		Cancelled:   res.Cancelled,
		Status:      string(res.Transaction.Status),
		AuditErrors: len(res.AuditErrors),
		Duration:    res.Duration,
	}
	if halted, ok := res.HaltedAt(); ok {
		out.HaltedAt = halted.Name
	}
	for _, run := range res.Stages {
		out.Stages = append(out.Stages, StageLine{Name: run.Name, Outcome: string(run.Outcome), Action: run.Action})
	}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

// Counts tallies succeeded and failed outcomes
func Counts(outcomes []Outcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// WriteOutcomes encodes outcomes as YAML
func WriteOutcomes(w io.Writer, outcomes []Outcome) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(outcomes); err != nil {
		return err
	}
	return enc.Close()
}

// WriteOutcomesFile writes outcomes next to the input as <path>_results.yaml
func WriteOutcomesFile(inputPath string, outcomes []Outcome) (string, error) {
	outputPath := inputPath + "_results.yaml"
	f, err := os.Create(outputPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := WriteOutcomes(f, outcomes); err != nil {
		return "", err
	}
	return outputPath, nil
}
