package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zonemaster/broker/internal/config"
	"github.com/zonemaster/broker/internal/models"
	"github.com/zonemaster/broker/internal/store"
	"github.com/zonemaster/broker/internal/translate"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(store.EngineSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	cfg.Locales = []string{"en_US.UTF-8"}

	return &Server{
		Store:   st,
		Catalog: translate.NewCatalog(),
		Config:  cfg,
	}
}

func call(t *testing.T, s *Server, method string, params any, remoteIP string) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	req := Request{ID: json.RawMessage(`1`), Method: method, Params: raw}
	return s.Handle(context.Background(), req, remoteIP)
}

func TestStartDomainTest_Dedup(t *testing.T) {
	s := newTestServer(t)

	resp1 := call(t, s, "start_domain_test", map[string]any{
		"domain": "zonemaster.net", "ipv4": true, "ipv6": true, "profile": "default",
	}, "203.0.113.5")
	require.Nil(t, resp1.Error)
	idA, ok := resp1.Result.(string)
	require.True(t, ok)

	resp2 := call(t, s, "start_domain_test", map[string]any{
		"domain": "zonemaster.net", "ipv4": true, "ipv6": true, "profile": "default", "nameservers": []any{},
	}, "203.0.113.5")
	require.Nil(t, resp2.Error)
	require.Equal(t, idA, resp2.Result)
}

func TestStartDomainTest_DefaultsQueueToLockOnQueue(t *testing.T) {
	s := newTestServer(t)
	s.Config.LockOnQueue = 3

	resp := call(t, s, "start_domain_test", map[string]any{
		"domain": "lock-on-queue.example", "ipv4": true, "profile": "default",
	}, "203.0.113.5")
	require.Nil(t, resp.Error)
	id, ok := resp.Result.(string)
	require.True(t, ok)

	test, err := s.Store.ReadTest(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 3, test.Queue)
}

func TestStartDomainTest_InvalidParams(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "start_domain_test", map[string]any{"domain": "ex ample.com"}, "203.0.113.5")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)

	data, ok := resp.Error.Data.([]map[string]string)
	require.True(t, ok)
	require.Len(t, data, 1)
	require.Equal(t, "/domain", data[0]["path"])
}

func TestAddAPIUser_LoopbackOnly(t *testing.T) {
	s := newTestServer(t)

	denied := call(t, s, "add_api_user", map[string]any{"username": "alice", "api_key": "secret"}, "10.0.0.1")
	require.NotNil(t, denied.Error)
	require.Equal(t, CodeInternalError, denied.Error.Code)
	data, ok := denied.Error.Data.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", data["remote_ip"])

	allowed := call(t, s, "add_api_user", map[string]any{"username": "alice", "api_key": "secret"}, "127.0.0.1")
	require.Nil(t, allowed.Error)
	require.Equal(t, 1, allowed.Result)
}

func TestAddBatchJob_Gating(t *testing.T) {
	s := newTestServer(t)

	created := call(t, s, "add_api_user", map[string]any{"username": "alice", "api_key": "secret"}, "::1")
	require.Nil(t, created.Error)

	first := call(t, s, "add_batch_job", map[string]any{
		"username": "alice", "api_key": "secret", "domains": []string{"a.test", "b.test"},
	}, "203.0.113.5")
	require.Nil(t, first.Error)
	require.EqualValues(t, int64(1), first.Result)

	again := call(t, s, "add_batch_job", map[string]any{
		"username": "alice", "api_key": "secret", "domains": []string{"c.test"},
	}, "203.0.113.5")
	require.NotNil(t, again.Error)
	require.Equal(t, "Batch job still running", again.Error.Message)
	data, ok := again.Error.Data.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, int64(1), data["batch_id"])
	require.Contains(t, data, "creation_time")

	status, err := s.Store.BatchStatus(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, status.NbRunning)
}

func TestAddBatchJob_DisabledByConfig(t *testing.T) {
	s := newTestServer(t)
	s.Config.EnableAddBatchJob = false

	resp := call(t, s, "add_batch_job", map[string]any{
		"username": "alice", "api_key": "secret", "domains": []string{"a.test"},
	}, "203.0.113.5")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestAddAPIUser_RejectsConflictingKey(t *testing.T) {
	s := newTestServer(t)

	first := call(t, s, "add_api_user", map[string]any{"username": "alice", "api_key": "secret"}, "127.0.0.1")
	require.Nil(t, first.Error)
	require.Equal(t, 1, first.Result)

	idempotent := call(t, s, "add_api_user", map[string]any{"username": "alice", "api_key": "secret"}, "127.0.0.1")
	require.Nil(t, idempotent.Error)
	require.Equal(t, 0, idempotent.Result)

	conflict := call(t, s, "add_api_user", map[string]any{"username": "alice", "api_key": "other"}, "127.0.0.1")
	require.NotNil(t, conflict.Error)
	require.Equal(t, CodeInternalError, conflict.Error.Code)
	data, ok := conflict.Error.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "alice", data["username"])
}

func TestGetTestResults_DropsPolicyDisabledExampleAndRewritesPaths(t *testing.T) {
	s := newTestServer(t)

	started := call(t, s, "start_domain_test", map[string]any{"domain": "example.test", "profile": "default"}, "203.0.113.5")
	require.Nil(t, started.Error)
	id := started.Result.(string)

	progress := call(t, s, "test_progress", map[string]any{"test_id": id}, "203.0.113.5")
	require.Nil(t, progress.Error)
	require.Equal(t, 0, progress.Result)

	ctx := context.Background()
	_, err := s.Store.ClaimNext(ctx, 0, 0)
	require.NoError(t, err)

	err = s.Store.SetProgress(ctx, id, 100, []models.ResultEntry{
		{Module: "SYSTEM", Tag: "POLICY_DISABLED", Args: map[string]string{"name": "Example"}, Level: models.SeverityInfo},
		{Module: "NAMESERVER", Tag: "NS_NOT_RESPOND", NS: "ns1", Level: models.SeverityWarning, Args: map[string]string{"ns": "ns1"}},
	})
	require.NoError(t, err)

	results := call(t, s, "get_test_results", map[string]any{"id": id, "language": "en_US"}, "203.0.113.5")
	require.Nil(t, results.Error)

	out, ok := results.Result.(getTestResultsResult)
	require.True(t, ok)
	require.Len(t, out.Results, 1)
	require.Equal(t, "NAMESERVER", out.Results[0].Module)
	require.NotContains(t, out.Results[0].Message, "policy.json")

	history := call(t, s, "get_test_history", map[string]any{"frontend_params": map[string]string{"domain": "example.test"}}, "203.0.113.5")
	require.Nil(t, history.Error)
	entries, ok := history.Result.([]historyEntryOut)
	require.True(t, ok)
	require.Len(t, entries, 1)
	require.Equal(t, "warning", entries[0].OverallResult)
}

func TestMethodNotFound(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, "no_such_method", map[string]any{}, "203.0.113.5")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}
