package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paypipe/internal/clients/datadog"
	"paypipe/internal/errors"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/domain"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// auditDocument is the JSON shape of a record shipped to log sinks
type auditDocument struct {
	TransactionID string         `json:"transaction_id"`
	Stage         string         `json:"stage"`
	Outcome       string         `json:"outcome"`
	Error         string         `json:"error,omitempty"`
	DurationNs    int64          `json:"duration_ns"`
	Timestamp     time.Time      `json:"timestamp"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
}

func newAuditDocument(rec domain.StageExecutionRecord) auditDocument {
	return auditDocument{
		TransactionID: rec.TransactionID,
		Stage:         rec.Stage,
		Outcome:       string(rec.Outcome),
		Error:         rec.Error,
		DurationNs:    rec.Duration.Nanoseconds(),
		Timestamp:     rec.Timestamp.UTC(),
		Input:         rec.Input,
		Output:        rec.Output,
	}
}

func (d auditDocument) record() domain.StageExecutionRecord {
	return domain.StageExecutionRecord{
		TransactionID: d.TransactionID,
		Stage:         d.Stage,
		Outcome:       domain.StageOutcome(d.Outcome),
		Error:         d.Error,
		Duration:      time.Duration(d.DurationNs),
		Timestamp:     d.Timestamp,
		Input:         d.Input,
		Output:        d.Output,
	}
}

// DatadogAuditStore ships records to Datadog logs and reads them back through
// log search
type DatadogAuditStore struct {
	client      datadog.DatadogInterface
	environment string
	lookback    string
}

func NewDatadogAuditStore(client datadog.DatadogInterface, environment string) *DatadogAuditStore {
	return &DatadogAuditStore{client: client, environment: environment, lookback: "now-7d"}
}

func (s *DatadogAuditStore) Append(ctx context.Context, rec domain.StageExecutionRecord) error {
	msg, err := json.Marshal(newAuditDocument(rec))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode audit record")
	}
	item := datadogV2.NewHTTPLogItem(string(msg))
	item.SetDdsource("paypipe")
	item.SetService(s.client.Service())
	item.SetDdtags(fmt.Sprintf("env:%s,stage:%s,outcome:%s", s.environment, rec.Stage, rec.Outcome))
	if err := s.client.SubmitLogs(ctx, []datadogV2.HTTPLogItem{*item}); err != nil {
		return errors.External("datadog", err)
	}
	return nil
}

// Query is the log search query that selects a transaction's records
func (s *DatadogAuditStore) Query(transactionID string) string {
	return fmt.Sprintf("service:%s @transaction_id:%s", s.client.Service(), transactionID)
}

func (s *DatadogAuditStore) ListByTransaction(ctx context.Context, transactionID string) ([]domain.StageExecutionRecord, error) {
	resp, err := s.client.SearchLogs(ctx, datadog.LogSearchParams{
		Query: s.Query(transactionID),
		From:  s.lookback,
		To:    "now",
		Sort:  "timestamp",
		Limit: 100,
	})
	if err != nil {
		return nil, errors.External("datadog", err)
	}

	var out []domain.StageExecutionRecord
	for _, event := range resp.Data {
		doc, ok := documentFromEvent(event)
		if !ok || doc.TransactionID != transactionID {
			continue
		}
		out = append(out, doc.record())
	}
	return out, nil
}

// documentFromEvent prefers the attributes Datadog parsed out of the JSON
// message and falls back to decoding the raw message
func documentFromEvent(event datadog.LogEvent) (auditDocument, bool) {
	var doc auditDocument
	if attrs, ok := event.Attributes["attributes"].(map[string]any); ok {
		if raw, err := json.Marshal(attrs); err == nil && json.Unmarshal(raw, &doc) == nil && doc.Stage != "" {
			return doc, true
		}
	}
	if msg, ok := event.Attributes["message"].(string); ok {
		if json.Unmarshal([]byte(msg), &doc) == nil && doc.Stage != "" {
			return doc, true
		}
	}
	return auditDocument{}, false
}

// LogAuditStore writes every record to the structured log and keeps the
// records of this process for listing
type LogAuditStore struct {
	*MemoryAuditStore
	logger *logging.Logger
}

func NewLogAuditStore(logger *logging.Logger) *LogAuditStore {
	if logger == nil {
		logger = logging.NewDefaultLogger("audit")
	}
	return &LogAuditStore{MemoryAuditStore: NewMemoryAuditStore(), logger: logger}
}

func (s *LogAuditStore) Append(ctx context.Context, rec domain.StageExecutionRecord) error {
	s.logger.
		With("transaction_id", rec.TransactionID).
		With("stage", rec.Stage).
		With("outcome", string(rec.Outcome)).
		With("duration", rec.Duration.String()).
		Info("stage %s %s%s", rec.Stage, rec.Outcome, errorSuffix(rec.Error))
	return s.MemoryAuditStore.Append(ctx, rec)
}

func errorSuffix(msg string) string {
	if msg == "" {
		return ""
	}
	return ": " + msg
}
