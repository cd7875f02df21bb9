package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		Endpoint:  server.URL,
		APISecret: "sk_cluster-1_abc123",
		ClusterID: "cluster-1",
		MachineID: "machine-1",
		Logger:    zerolog.Nop(),
	})

	return client, server
}

func TestRegisterMachine(t *testing.T) {
	var gotPayload map[string]interface{}
	var gotHeaders http.Header

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/machines", r.URL.Path)
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_ = json.NewEncoder(w).Encode(map[string]string{"clusterId": "cluster-1"})
	}))

	clusterID, err := client.RegisterMachine(context.Background(), []ToolRegistration{
		{Name: "sum", Description: "Add numbers", Schema: `{"type":"object"}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "cluster-1", clusterID)

	assert.Equal(t, "Bearer sk_cluster-1_abc123", gotHeaders.Get("Authorization"))
	assert.Equal(t, "machine-1", gotHeaders.Get("X-Machine-ID"))
	assert.Equal(t, "go", gotHeaders.Get("X-Machine-SDK-Language"))

	assert.Equal(t, "meshrpc-go", gotPayload["service"])
	toolList := gotPayload["tools"].([]interface{})
	require.Len(t, toolList, 1)
	assert.Equal(t, "sum", toolList[0].(map[string]interface{})["name"])
}

func TestRegisterMachine_MissingClusterID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))

	_, err := client.RegisterMachine(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing clusterId")
}

func TestRegisterMachine_ServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid secret"}}`))
	}))

	_, err := client.RegisterMachine(context.Background(), nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid secret", apiErr.Message)
}

func TestPollJobs(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/clusters/cluster-1/jobs", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, "pending", query.Get("status"))
		assert.Equal(t, "10", query.Get("limit"))
		assert.Equal(t, "10", query.Get("waitTime"))
		assert.Equal(t, "true", query.Get("acknowledge"))
		assert.Equal(t, "sum,echo", query.Get("tools"))
		assert.Equal(t, "machine-1", query.Get("machineId"))

		w.Header().Set("Retry-After", "15")
		_, _ = w.Write([]byte(`[{"id":"j1","function":"sum","input":{"a":1}}]`))
	}))

	resp, err := client.PollJobs(context.Background(), PollRequest{
		Tools:       []string{"sum", "echo"},
		Limit:       10,
		WaitSeconds: 10,
		Acknowledge: true,
	})
	require.NoError(t, err)

	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "j1", resp.Jobs[0].ID)
	assert.Equal(t, "sum", resp.Jobs[0].Tool)
	assert.JSONEq(t, `{"a":1}`, string(resp.Jobs[0].Input))

	require.NotNil(t, resp.RetryAfterSeconds)
	assert.Equal(t, 15, *resp.RetryAfterSeconds)
}

func TestPollJobs_EmptyBatchNoRetryAfter(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))

	resp, err := client.PollJobs(context.Background(), PollRequest{Limit: 10, WaitSeconds: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Jobs)
	assert.Nil(t, resp.RetryAfterSeconds)
}

func TestPollJobs_GoneMeansReRegister(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))

	_, err := client.PollJobs(context.Background(), PollRequest{Limit: 10})
	assert.ErrorIs(t, err, ErrMachineExpired)
}

func TestReportResult(t *testing.T) {
	var gotPayload map[string]interface{}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/clusters/cluster-1/jobs/j1/result", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_, _ = w.Write([]byte(`{}`))
	}))

	err := client.ReportResult(context.Background(), "j1", Result{
		Value:         13,
		Kind:          KindNumber,
		Outcome:       OutcomeResolved,
		ElapsedMillis: 42,
	})
	require.NoError(t, err)

	assert.Equal(t, float64(13), gotPayload["result"])
	assert.Equal(t, "resolution", gotPayload["resultType"])
	meta := gotPayload["meta"].(map[string]interface{})
	assert.Equal(t, float64(42), meta["functionExecutionTime"])
}

func TestListClusterTools(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/clusters/cluster-1/tools", r.URL.Path)
		_, _ = w.Write([]byte(`[{"name":"sum","description":"Add numbers"}]`))
	}))

	toolset, err := client.ListClusterTools(context.Background())
	require.NoError(t, err)
	require.Len(t, toolset, 1)
	assert.Equal(t, "sum", toolset[0].Name)
}
