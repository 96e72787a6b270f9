package datadog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	datadogapi "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"paypipe/internal/config"
	"paypipe/internal/logging"
)

type DatadogClient struct {
	config  config.DatadogConfig
	logsAPI *datadogV2.LogsApi
	keys    map[string]datadogapi.APIKey
	logger  *logging.Logger
}

func NewDatadogClient(cfg config.DatadogConfig) *DatadogClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.datadoghq.com"
	}

	apiCfg := datadogapi.NewConfiguration()
	apiCfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	apiCfg.Servers = datadogapi.ServerConfigurations{{URL: baseURL}}
	apiCfg.OperationServers = map[string]datadogapi.ServerConfigurations{
		"LogsApi.ListLogs":  {{URL: baseURL}},
		"LogsApi.SubmitLog": {{URL: baseURL}},
	}

	return &DatadogClient{
		config:  cfg,
		logsAPI: datadogV2.NewLogsApi(datadogapi.NewAPIClient(apiCfg)),
		keys: map[string]datadogapi.APIKey{
			"apiKeyAuth": {Key: cfg.APIKey},
			"appKeyAuth": {Key: cfg.AppKey},
		},
		logger: logging.NewDefaultLogger("datadog"),
	}
}

func (c *DatadogClient) authContext(ctx context.Context) context.Context {
	return context.WithValue(datadogapi.NewDefaultContext(ctx), datadogapi.ContextAPIKeys, c.keys)
}

func (c *DatadogClient) Service() string {
	if c.config.Service == "" {
		return "paypipe"
	}
	return c.config.Service
}

func (c *DatadogClient) SearchLogs(ctx context.Context, params LogSearchParams) (*LogSearchResponse, error) {
	if params.Query == "" {
		params.Query = "*"
	}
	if params.From == "" {
		params.From = "now-15m"
	}
	if params.To == "" {
		params.To = "now"
	}
	if params.Limit <= 0 {
		params.Limit = 10
	}

	req := datadogV2.NewLogsListRequest()
	filter := datadogV2.NewLogsQueryFilter()
	filter.SetQuery(params.Query)
	filter.SetFrom(params.From)
	filter.SetTo(params.To)
	if len(params.Indexes) > 0 {
		filter.SetIndexes(params.Indexes)
	}
	req.SetFilter(*filter)

	page := datadogV2.NewLogsListRequestPage()
	page.SetLimit(int32(params.Limit))
	if params.Cursor != "" {
		page.SetCursor(params.Cursor)
	}
	req.SetPage(*page)

	if sortVal, err := datadogV2.NewLogsSortFromValue(normalizeSort(params.Sort)); err == nil {
		req.SetSort(*sortVal)
	}

	c.logger.Debug("searching logs: %s (%s..%s)", params.Query, params.From, params.To)
	resp, httpResp, err := c.logsAPI.ListLogs(c.authContext(ctx), *datadogV2.NewListLogsOptionalParameters().WithBody(*req))
	if httpResp != nil && httpResp.Body != nil {
		defer func() { _ = httpResp.Body.Close() }()
	}
	if err != nil {
		return nil, err
	}

	out := &LogSearchResponse{
		Data:  make([]LogEvent, 0, len(resp.GetData())),
		Links: map[string]string{},
	}
	if links, ok := resp.GetLinksOk(); ok && links != nil {
		if next, ok := links.GetNextOk(); ok && next != nil {
			out.Links["next"] = *next
		}
	}
	for _, item := range resp.GetData() {
		event := LogEvent{
			ID:   item.GetId(),
			Type: string(item.GetType()),
		}
		if attrs, ok := item.GetAttributesOk(); ok && attrs != nil {
			event.Attributes = decodeToMap(attrs)
		}
		out.Data = append(out.Data, event)
	}
	return out, nil
}

func (c *DatadogClient) SubmitLogs(ctx context.Context, body []datadogV2.HTTPLogItem) error {
	_, httpResp, err := c.logsAPI.SubmitLog(c.authContext(ctx), body)
	if httpResp != nil && httpResp.Body != nil {
		defer func() { _ = httpResp.Body.Close() }()
	}
	return err
}

// ExplorerURL links to the log explorer filtered by query
func (c *DatadogClient) ExplorerURL(query string) string {
	appURL := c.config.AppURL
	if appURL == "" {
		appURL = "https://app.datadoghq.com"
	}
	v := url.Values{}
	v.Set("query", query)
	v.Set("live", "false")
	return strings.TrimRight(appURL, "/") + "/logs?" + v.Encode()
}

func normalizeSort(sort string) string {
	s := strings.TrimSpace(strings.ToLower(sort))
	switch s {
	case "", "-timestamp", "desc", "descending":
		return string(datadogV2.LOGSSORT_TIMESTAMP_DESCENDING)
	case "timestamp", "asc", "ascending":
		return string(datadogV2.LOGSSORT_TIMESTAMP_ASCENDING)
	default:
		return sort
	}
}

func decodeToMap(value any) map[string]any {
	if value == nil {
		return nil
	}
	if m, ok := value.(map[string]any); ok {
		return m
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(bytes, &out); err != nil {
		return nil
	}
	return out
}
