// Package dataservice provides the client adapter to the external data
// query service. The service itself is an external collaborator; only the
// request/response contract and the error classification live here.
package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dashwire/dashwire/core"
)

// queryBody is the wire request for one chart data query.
type queryBody struct {
	ChartID      string         `json:"chart_id"`
	Dataset      string         `json:"dataset"`
	Filters      map[string]any `json:"filters,omitempty"`
	ForceRefresh bool           `json:"force_refresh,omitempty"`
}

// queryResponse is the wire response.
type queryResponse struct {
	Columns         []core.Column `json:"columns"`
	Rows            []core.Row    `json:"rows"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
}

// HTTPService implements core.DataService over a JSON query endpoint.
type HTTPService struct {
	baseURL string
	client  *http.Client
	log     core.Logger
}

// NewHTTPService creates the adapter. A nil client uses http.DefaultClient;
// per-request timeouts come from the caller's context.
func NewHTTPService(baseURL string, client *http.Client, log core.Logger) *HTTPService {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPService{
		baseURL: baseURL,
		client:  client,
		log:     log,
	}
}

// FetchChartData implements core.DataService.
func (s *HTTPService) FetchChartData(ctx context.Context, req core.QueryRequest) (*core.QueryResult, error) {
	body, err := json.Marshal(queryBody{
		ChartID:      req.ChartID,
		Dataset:      req.DatasetReference,
		Filters:      req.Filters,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		return nil, core.NewFetchError(core.ErrKindConfiguration, req.ChartID,
			fmt.Errorf("failed to encode query: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewFetchError(core.ErrKindConfiguration, req.ChartID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewFetchError(core.ErrKindTimeout, req.ChartID, err)
		}
		return nil, core.NewFetchError(core.ErrKindNetwork, req.ChartID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewFetchError(classifyStatus(resp.StatusCode), req.ChartID,
			fmt.Errorf("query service returned %s", resp.Status))
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, core.NewFetchError(core.ErrKindServer, req.ChartID,
			fmt.Errorf("failed to decode query response: %w", err))
	}

	return &core.QueryResult{
		Data: core.Dataset{
			Columns: decoded.Columns,
			Rows:    decoded.Rows,
		},
		ExecutionTime: time.Duration(decoded.ExecutionTimeMs) * time.Millisecond,
	}, nil
}

// classifyStatus maps an HTTP status to an error kind: 5xx is retryable,
// missing datasets and permission failures are terminal.
func classifyStatus(status int) core.ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return core.ErrKindNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return core.ErrKindPermissionDenied
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return core.ErrKindTimeout
	case status >= 500:
		return core.ErrKindServer
	case status >= 400:
		return core.ErrKindConfiguration
	default:
		return core.ErrKindNetwork
	}
}
