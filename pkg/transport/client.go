package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SDKVersion is reported to the server on every request.
const SDKVersion = "0.1.0"

const defaultHTTPTimeout = 30 * time.Second

// Config holds the settings for an HTTP transport client.
type Config struct {
	Endpoint  string
	APISecret string
	ClusterID string
	MachineID string
	Logger    zerolog.Logger

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the MeshRPC HTTP API. It owns auth headers and request
// formatting; callers only see decoded responses and typed errors.
type Client struct {
	endpoint   string
	apiSecret  string
	clusterID  string
	machineID  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates an HTTP transport client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiSecret:  cfg.APISecret,
		clusterID:  cfg.ClusterID,
		machineID:  cfg.MachineID,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// ClusterID returns the cluster this client is bound to.
func (c *Client) ClusterID() string {
	return c.clusterID
}

// RegisterMachine announces this machine and its tools to the server and
// returns the cluster ID the server bound the machine to.
func (c *Client) RegisterMachine(ctx context.Context, toolset []ToolRegistration) (string, error) {
	payload := map[string]interface{}{
		"service": "meshrpc-go",
		"tools":   toolset,
	}

	body, _, err := c.post(ctx, "/machines", payload)
	if err != nil {
		return "", fmt.Errorf("failed to register machine: %w", err)
	}

	var decoded struct {
		ClusterID string `json:"clusterId"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("failed to register machine: invalid response: %w", err)
	}
	if decoded.ClusterID == "" {
		return "", fmt.Errorf("failed to register machine: response is missing clusterId")
	}

	if c.clusterID != "" && decoded.ClusterID != c.clusterID {
		c.logger.Warn().
			Str("configured", c.clusterID).
			Str("reported", decoded.ClusterID).
			Msg("Server reported a different cluster ID than configured")
	}

	c.logger.Info().Str("cluster_id", decoded.ClusterID).Msg("Machine registered")
	return decoded.ClusterID, nil
}

// PollJobs long-polls for pending jobs matching this machine's tools.
// HTTP 410 maps to ErrMachineExpired so the agent can re-register.
func (c *Client) PollJobs(ctx context.Context, req PollRequest) (PollResponse, error) {
	query := url.Values{}
	query.Set("machineId", c.machineID)
	query.Set("status", "pending")
	query.Set("limit", strconv.Itoa(req.Limit))
	query.Set("waitTime", strconv.Itoa(req.WaitSeconds))
	query.Set("acknowledge", strconv.FormatBool(req.Acknowledge))
	if len(req.Tools) > 0 {
		query.Set("tools", strings.Join(req.Tools, ","))
	}

	path := fmt.Sprintf("/clusters/%s/jobs?%s", c.clusterID, query.Encode())

	body, headers, err := c.get(ctx, path)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGone {
			return PollResponse{}, fmt.Errorf("poll rejected: %w", ErrMachineExpired)
		}
		return PollResponse{}, fmt.Errorf("failed to poll jobs: %w", err)
	}

	var jobs []Job
	if err := json.Unmarshal(body, &jobs); err != nil {
		return PollResponse{}, fmt.Errorf("failed to parse poll response: %w", err)
	}

	resp := PollResponse{Jobs: jobs}
	if v := headers.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			resp.RetryAfterSeconds = &seconds
		}
	}

	return resp, nil
}

// ReportResult submits a job's result envelope.
func (c *Client) ReportResult(ctx context.Context, jobID string, result Result) error {
	payload := resultPayload{
		Result:     result.Value,
		ResultType: result.Outcome,
		Meta:       resultMeta{FunctionExecutionTime: result.ElapsedMillis},
	}

	path := fmt.Sprintf("/clusters/%s/jobs/%s/result", c.clusterID, jobID)
	if _, _, err := c.post(ctx, path, payload); err != nil {
		return fmt.Errorf("failed to report result for job %s: %w", jobID, err)
	}

	return nil
}

// ListClusterTools returns the tools currently visible on the cluster.
func (c *Client) ListClusterTools(ctx context.Context) ([]ClusterTool, error) {
	body, _, err := c.get(ctx, fmt.Sprintf("/clusters/%s/tools", c.clusterID))
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	var decoded []ClusterTool
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse tools response: %w", err)
	}

	return decoded, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, http.Header, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, http.Header, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, raw)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, nil, &APIError{Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiSecret)
	req.Header.Set("X-Machine-ID", c.machineID)
	req.Header.Set("X-Machine-SDK-Version", SDKVersion)
	req.Header.Set("X-Machine-SDK-Language", "go")

	c.logger.Debug().Str("method", method).Str("path", path).Msg("API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: apiErrorMessage(respBody, resp.StatusCode)}
	}

	return respBody, resp.Header, nil
}

// apiErrorMessage extracts the server's error message from a
// {"error":{"message":...}} body, falling back to the status text.
func apiErrorMessage(body []byte, status int) string {
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	return http.StatusText(status)
}
