package datadog

import (
	"context"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

type LogSearchParams struct {
	Query   string
	From    string
	To      string
	Sort    string
	Limit   int
	Cursor  string
	Indexes []string
}

type LogEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

type LogSearchResponse struct {
	Data  []LogEvent        `json:"data"`
	Links map[string]string `json:"links,omitempty"`
}

type DatadogInterface interface {
	Service() string
	SearchLogs(ctx context.Context, params LogSearchParams) (*LogSearchResponse, error)
	SubmitLogs(ctx context.Context, body []datadogV2.HTTPLogItem) error
	ExplorerURL(query string) string
}
