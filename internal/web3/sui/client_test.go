package sui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/web3"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type fakeNode struct {
	mu       sync.Mutex
	calls    []rpcRequest
	handlers map[string]func(params []json.RawMessage) (any, *rpcErrorBody)
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	handler := f.handlers[req.Method]
	f.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if handler == nil {
		resp["error"] = rpcErrorBody{Code: -32601, Message: "method not found"}
	} else if result, rpcErr := handler(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeNode) lastCall(method string) rpcRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i]
		}
	}
	return rpcRequest{}
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	client, err := NewClient(context.Background(), Config{Name: "test", RPCURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestOwnedObjectsFollowsPages(t *testing.T) {
	next := "cursor-1"
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErrorBody){
		"suix_getOwnedObjects": func(params []json.RawMessage) (any, *rpcErrorBody) {
			if string(params[2]) == "null" {
				return map[string]any{
					"data":        []any{map[string]any{"data": map[string]any{"objectId": "0xbook1", "version": "1", "digest": "d1"}}},
					"nextCursor":  next,
					"hasNextPage": true,
				}, nil
			}
			return map[string]any{
				"data":        []any{map[string]any{"data": map[string]any{"objectId": "0xbook2", "version": "3", "digest": "d2"}}},
				"hasNextPage": false,
			}, nil
		},
	}}
	client := newTestClient(t, node)

	refs, err := client.OwnedObjectsByType(context.Background(), "0xowner", "0xpkg::address_book::AddressBook")
	if err != nil {
		t.Fatalf("OwnedObjectsByType: %v", err)
	}
	if len(refs) != 2 || refs[0].ObjectID != "0xbook1" || refs[1].ObjectID != "0xbook2" {
		t.Fatalf("unexpected refs: %+v", refs)
	}

	var query struct {
		Filter map[string]string `json:"filter"`
	}
	_ = json.Unmarshal(node.lastCall("suix_getOwnedObjects").Params[1], &query)
	if query.Filter["StructType"] != "0xpkg::address_book::AddressBook" {
		t.Fatalf("unexpected filter: %+v", query.Filter)
	}
}

func TestObjectContentsDecodesFields(t *testing.T) {
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErrorBody){
		"sui_getObject": func([]json.RawMessage) (any, *rpcErrorBody) {
			return map[string]any{"data": map[string]any{
				"objectId": "0xpool",
				"type":     "0xpkg::stake::StakePool",
				"content": map[string]any{
					"dataType": "moveObject",
					"type":     "0xpkg::stake::StakePool",
					"fields":   map[string]any{"balance": "2500000000"},
				},
			}}, nil
		},
	}}
	client := newTestClient(t, node)

	content, err := client.ObjectContents(context.Background(), "0xpool")
	if err != nil {
		t.Fatalf("ObjectContents: %v", err)
	}
	var fields struct {
		Balance string `json:"balance"`
	}
	if err := content.Decode(&fields); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fields.Balance != "2500000000" || content.ObjectID != "0xpool" {
		t.Fatalf("unexpected content: %+v %+v", content, fields)
	}
}

func TestObjectContentsMissingObject(t *testing.T) {
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErrorBody){
		"sui_getObject": func([]json.RawMessage) (any, *rpcErrorBody) {
			return map[string]any{"error": map[string]any{"code": "notExists", "object_id": "0xgone"}}, nil
		},
	}}
	client := newTestClient(t, node)

	_, err := client.ObjectContents(context.Background(), "0xgone")
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestBalanceTransportFailureIsLedgerUnavailable(t *testing.T) {
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErrorBody){
		"suix_getBalance": func([]json.RawMessage) (any, *rpcErrorBody) {
			return nil, &rpcErrorBody{Code: -32000, Message: "node overloaded"}
		},
	}}
	client := newTestClient(t, node)

	_, err := client.Balance(context.Background(), "0xowner", web3.SUICoinType)
	if xerrors.CodeOf(err) != xerrors.CodeLedgerUnavailable {
		t.Fatalf("expected LEDGER_UNAVAILABLE, got %v", err)
	}
}

func TestBuildMoveCallAndPay(t *testing.T) {
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErrorBody){
		"unsafe_moveCall": func([]json.RawMessage) (any, *rpcErrorBody) {
			return map[string]any{"txBytes": "AAEC"}, nil
		},
		"unsafe_paySui": func([]json.RawMessage) (any, *rpcErrorBody) {
			return map[string]any{"txBytes": "AAED"}, nil
		},
	}}
	client := newTestClient(t, node)
	ctx := context.Background()

	block, err := client.BuildMoveCall(ctx, web3.MoveCallRequest{
		Signer: "0xowner", Package: "0xpkg", Module: "stake", Function: "stake",
		Arguments: []any{"0xpool", "1500000000"},
	})
	if err != nil || block.TxBytes != "AAEC" {
		t.Fatalf("BuildMoveCall: %v %+v", err, block)
	}
	call := node.lastCall("unsafe_moveCall")
	if len(call.Params) != 9 || string(call.Params[7]) != `"10000000"` {
		t.Fatalf("unexpected move call params: %s", call.Params)
	}

	block, err = client.BuildPay(ctx, web3.PayRequest{
		Signer: "0xowner", InputCoins: []string{"0xcoin"}, Recipients: []string{"0xbob"}, Amounts: []string{"1"},
	})
	if err != nil || block.TxBytes != "AAED" {
		t.Fatalf("BuildPay: %v %+v", err, block)
	}

	if _, err := client.BuildPay(ctx, web3.PayRequest{Signer: "0xowner"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT without coins, got %v", err)
	}
}

func TestExecuteReportsRejection(t *testing.T) {
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErrorBody){
		"sui_executeTransactionBlock": func(params []json.RawMessage) (any, *rpcErrorBody) {
			if string(params[0]) == `"bad"` {
				return nil, &rpcErrorBody{Code: -32002, Message: "Invalid user signature"}
			}
			return map[string]any{
				"digest":  "9xDigest",
				"effects": map[string]any{"status": map[string]any{"status": "success"}},
			}, nil
		},
	}}
	client := newTestClient(t, node)
	ctx := context.Background()

	ok, err := client.Execute(ctx, "good", []string{"sig"})
	if err != nil || ok.Digest != "9xDigest" || ok.Status != "success" {
		t.Fatalf("Execute success path: %v %+v", err, ok)
	}

	rejected, err := client.Execute(ctx, "bad", []string{"sig"})
	if err != nil {
		t.Fatalf("rejection must not be a transport error: %v", err)
	}
	if rejected.Status != "failed" || rejected.Error != "Invalid user signature" {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
}

func TestTransactionStatus(t *testing.T) {
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErrorBody){
		"sui_getTransactionBlock": func([]json.RawMessage) (any, *rpcErrorBody) {
			return map[string]any{
				"digest":      "3pzM",
				"timestampMs": "1700000000000",
				"effects":     map[string]any{"status": map[string]any{"status": "failure", "error": "InsufficientGas"}},
			}, nil
		},
	}}
	client := newTestClient(t, node)

	status, err := client.TransactionStatus(context.Background(), "3pzM")
	if err != nil {
		t.Fatalf("TransactionStatus: %v", err)
	}
	if status.Status != "failed" || status.TimestampMs != "1700000000000" {
		t.Fatalf("unexpected status: %+v", status)
	}
}
