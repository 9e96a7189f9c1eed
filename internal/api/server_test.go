package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenMCP-Sui/internal/agent"
	"OpenMCP-Sui/internal/contactstore"
	"OpenMCP-Sui/internal/dispatcher"
	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/task"
	"OpenMCP-Sui/internal/txbuilder"
	"OpenMCP-Sui/internal/web3"
	"OpenMCP-Sui/internal/web3/web3test"
)

const account = "0x00000000000000000000000000000000000000000000000000000000000000aa"

type stubResolver struct {
	outcome *agent.Outcome
	err     error
	gotMsg  string
	gotAcct string
}

func (s *stubResolver) Chat(_ context.Context, message, acct string) (*agent.Outcome, error) {
	s.gotMsg, s.gotAcct = message, acct
	return s.outcome, s.err
}

type memoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memoryBlobs) Put(_ context.Context, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "blob-" + string(rune('a'+len(m.blobs)))
	m.blobs[id] = data
	return id, nil
}

func (m *memoryBlobs) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "blob not found")
	}
	return data, nil
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	rec := do(t, NewServer(":0").Handler(), http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{
		"status":  "healthy",
		"service": "Sui Blockchain AI Agent",
		"version": "1.0.0-mvp",
	}, decode[map[string]string](t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestChat(t *testing.T) {
	resolver := &stubResolver{outcome: &agent.Outcome{
		Intent:  intent.Intent{Action: intent.ActionGetBalance},
		State:   agent.StateInformational,
		Message: "Your SUI balance is 1.5000 SUI",
	}}
	h := NewServer(":0", WithResolver(resolver)).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/chat", map[string]string{"message": "balance?", "user_address": account})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "Your SUI balance is 1.5000 SUI", body["message"])
	assert.Equal(t, false, body["ready_to_execute"])
	assert.Equal(t, "balance?", resolver.gotMsg)
	assert.Equal(t, account, resolver.gotAcct)

	rec = do(t, h, http.MethodPost, "/api/v1/chat", map[string]any{
		"message":      "stake 1 SUI",
		"user_address": account,
		"context":      map[string]any{"wallet": "sui-wallet", "user_address": "0xother"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stake 1 SUI", resolver.gotMsg)
	assert.Equal(t, account, resolver.gotAcct)

	rec = do(t, h, http.MethodPost, "/api/v1/chat", map[string]string{"message": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/chat", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"missing account", xerrors.New(xerrors.CodeMissingAccount, "User address required for balance query"), http.StatusBadRequest, "User address required for balance query"},
		{"ledger down", xerrors.New(xerrors.CodeLedgerUnavailable, "rpc down"), http.StatusBadGateway, "Error processing request: [LEDGER_UNAVAILABLE] rpc down"},
		{"timeout", xerrors.New(xerrors.CodeTimeout, "slow"), http.StatusGatewayTimeout, "Error processing request: [TIMEOUT] slow"},
		{"unknown", assert.AnError, http.StatusInternalServerError, "Error processing request: " + assert.AnError.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewServer(":0", WithResolver(&stubResolver{err: tc.err})).Handler()
			rec := do(t, h, http.MethodPost, "/api/v1/chat", map[string]string{"message": "hi"})
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.detail, decode[errorBody](t, rec).Detail)
		})
	}
}

func TestExecuteClientSide(t *testing.T) {
	ledger := web3test.NewLedger()
	h := NewServer(":0", WithExecutor(dispatcher.New(ledger))).Handler()

	desc, err := txbuilder.Stake(txbuilder.Module{PackageID: "0xstake", Name: "staking"}, account, "0xpool", "1000")
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/api/v1/execute", map[string]any{
		"user_address":     account,
		"transaction_data": desc,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[dispatcher.ExecutionResult](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, dispatcher.StatusReadyForSigning, res.Status)

	rec = do(t, h, http.MethodPost, "/api/v1/execute", map[string]any{"user_address": account})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/execute", map[string]any{"transaction_data": desc})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(xerrors.CodeMissingAccount), decode[errorBody](t, rec).Code)
}

func TestExecuteAcceptsNestedPrivateKey(t *testing.T) {
	ledger := web3test.NewLedger()
	h := NewServer(":0", WithExecutor(dispatcher.New(ledger))).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/execute", `{"user_address":"`+account+`","transaction_data":{"action":"stake_token","transaction_type":"move_call","target":"0xstake::staking::stake","arguments":[],"private_key":"not-a-key"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(xerrors.CodeInvalidArgument), decode[errorBody](t, rec).Code)
}

func TestTasksEndpoints(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(8), 3)
	h := NewServer(":0", WithTaskService(svc)).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/tasks", map[string]string{"message": "send 1 SUI to alice", "user_address": account})
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decode[task.Task](t, rec)
	assert.Equal(t, task.StatusPending, created.Status)

	require.NoError(t, store.MarkSucceeded(context.Background(), created.ID, &agent.Outcome{Message: "Ready"}))

	rec = do(t, h, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[task.Task](t, rec)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Ready", got.Result.Message)

	rec = do(t, h, http.MethodGet, "/api/v1/tasks?user_address="+account+"&status=succeeded", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]task.Task](t, rec)
	assert.Len(t, list["tasks"], 1)

	rec = do(t, h, http.MethodGet, "/api/v1/tasks/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[task.TaskStats](t, rec).Succeeded)

	rec = do(t, h, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/tasks", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContactsEndpoints(t *testing.T) {
	store, err := contactstore.New(&memoryBlobs{blobs: map[string][]byte{}}, contactstore.NewMemoryIndex(), "secret")
	require.NoError(t, err)
	h := NewServer(":0", WithContacts(store)).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/contacts/list?user_address="+account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"contacts":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/contacts/save", map[string]string{
		"user_address":    account,
		"contact_name":    "Mom",
		"contact_address": "0x1234",
		"notes":           "family",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decode[map[string]string](t, rec)
	assert.Equal(t, "Contact saved successfully", saved["message"])
	assert.NotEmpty(t, saved["blob_id"])

	rec = do(t, h, http.MethodGet, "/api/v1/contacts/list?user_address="+account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"contacts":[{"name":"Mom","address":"0x1234","notes":"family"}]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/contacts/save", map[string]string{"user_address": account, "contact_name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Contact name and address are required", decode[errorBody](t, rec).Detail)
}

func TestTransactionStatus(t *testing.T) {
	ledger := web3test.NewLedger()
	ledger.SetTransactionStatus(web3.TransactionStatus{Digest: "abc", Status: "success"})
	h := NewServer(":0", WithTransactionReader(ledger)).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/transactions/abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[web3.TransactionStatus](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/api/v1/transactions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnconfiguredDependencies(t *testing.T) {
	h := NewServer(":0").Handler()
	for _, path := range []string{"/api/v1/chat", "/api/v1/execute", "/api/v1/tasks", "/api/v1/contacts/save"} {
		rec := do(t, h, http.MethodPost, path, map[string]string{"message": "hi"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	rec := do(t, h, http.MethodDelete, "/api/v1/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
