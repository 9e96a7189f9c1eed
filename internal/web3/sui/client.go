package sui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/observability/metrics"
	"OpenMCP-Sui/internal/web3"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultGasBudget = "10000000"
	pageLimit        = 50
)

// Config describes how to construct a Sui full node client.
type Config struct {
	Name      string
	RPCURL    string
	Timeout   time.Duration
	GasBudget string
	Notes     string
}

// Client implements web3.Client over the Sui JSON-RPC API.
type Client struct {
	name      string
	notes     string
	timeout   time.Duration
	gasBudget string

	mu  sync.Mutex
	rpc *gethrpc.Client
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured full node and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 Sui RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 Sui 节点失败: %w", err)
	}
	return newWithRPC(rpcClient, cfg), nil
}

func newWithRPC(rpcClient *gethrpc.Client, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	budget := strings.TrimSpace(cfg.GasBudget)
	if budget == "" {
		budget = defaultGasBudget
	}
	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		timeout:   timeout,
		gasBudget: budget,
		rpc:       rpcClient,
	}
}

// Name returns the configured network name.
func (c *Client) Name() string { return c.name }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	c.mu.Lock()
	rpcClient := c.rpc
	c.mu.Unlock()
	if rpcClient == nil {
		return xerrors.New(xerrors.CodeLedgerUnavailable, "Sui 客户端已关闭")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	err := rpcClient.CallContext(callCtx, result, method, args...)
	metrics.ObserveLedgerCall(method, time.Since(started), err)
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, method+" 调用超时")
	}
	return xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, method+" 调用失败",
		xerrors.WithMetadata("method", method))
}

type objectOptions struct {
	ShowType    bool `json:"showType"`
	ShowContent bool `json:"showContent"`
	ShowOwner   bool `json:"showOwner,omitempty"`
}

type objectResponse struct {
	Data *struct {
		ObjectID string              `json:"objectId"`
		Version  string              `json:"version"`
		Digest   string              `json:"digest"`
		Type     string              `json:"type"`
		Content  *web3.ObjectContent `json:"content"`
	} `json:"data"`
	Error *struct {
		Code     string `json:"code"`
		ObjectID string `json:"object_id"`
	} `json:"error"`
}

type page[T any] struct {
	Data        []T     `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// OwnedObjectsByType lists objects of one struct type owned by owner.
func (c *Client) OwnedObjectsByType(ctx context.Context, owner, structType string) ([]web3.ObjectRef, error) {
	query := map[string]any{
		"filter":  map[string]string{"StructType": structType},
		"options": objectOptions{ShowType: true},
	}
	var (
		refs   []web3.ObjectRef
		cursor *string
	)
	for {
		var resp page[objectResponse]
		if err := c.call(ctx, &resp, "suix_getOwnedObjects", owner, query, cursor, pageLimit); err != nil {
			return nil, err
		}
		for _, item := range resp.Data {
			if item.Data == nil {
				continue
			}
			refs = append(refs, web3.ObjectRef{
				ObjectID: item.Data.ObjectID,
				Version:  item.Data.Version,
				Digest:   item.Data.Digest,
				Type:     item.Data.Type,
			})
		}
		if !resp.HasNextPage || resp.NextCursor == nil {
			return refs, nil
		}
		cursor = resp.NextCursor
	}
}

// ObjectContents fetches the Move content of an object.
func (c *Client) ObjectContents(ctx context.Context, objectID string) (*web3.ObjectContent, error) {
	var resp objectResponse
	if err := c.call(ctx, &resp, "sui_getObject", objectID, objectOptions{ShowType: true, ShowContent: true}); err != nil {
		return nil, err
	}
	return contentOf(resp, objectID)
}

// DynamicFieldObject fetches one entry of a Table or Bag owned by parentID.
func (c *Client) DynamicFieldObject(ctx context.Context, parentID string, name web3.DynamicFieldName) (*web3.ObjectContent, error) {
	var resp objectResponse
	if err := c.call(ctx, &resp, "suix_getDynamicFieldObject", parentID, name); err != nil {
		return nil, err
	}
	return contentOf(resp, parentID)
}

func contentOf(resp objectResponse, objectID string) (*web3.ObjectContent, error) {
	if resp.Error != nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "对象不存在: "+resp.Error.Code,
			xerrors.WithMetadata("object_id", objectID))
	}
	if resp.Data == nil || resp.Data.Content == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "对象缺少内容",
			xerrors.WithMetadata("object_id", objectID))
	}
	content := *resp.Data.Content
	if content.ObjectID == "" {
		content.ObjectID = resp.Data.ObjectID
	}
	if content.Type == "" {
		content.Type = resp.Data.Type
	}
	return &content, nil
}

// Balance returns the total balance of coinType owned by owner in base units.
func (c *Client) Balance(ctx context.Context, owner, coinType string) (string, error) {
	var resp struct {
		CoinType     string `json:"coinType"`
		TotalBalance string `json:"totalBalance"`
	}
	if err := c.call(ctx, &resp, "suix_getBalance", owner, coinType); err != nil {
		return "", err
	}
	if resp.TotalBalance == "" {
		return "0", nil
	}
	return resp.TotalBalance, nil
}

// Coins lists every coin object of coinType owned by owner.
func (c *Client) Coins(ctx context.Context, owner, coinType string) ([]web3.Coin, error) {
	var (
		coins  []web3.Coin
		cursor *string
	)
	for {
		var resp page[web3.Coin]
		if err := c.call(ctx, &resp, "suix_getCoins", owner, coinType, cursor, pageLimit); err != nil {
			return nil, err
		}
		coins = append(coins, resp.Data...)
		if !resp.HasNextPage || resp.NextCursor == nil {
			return coins, nil
		}
		cursor = resp.NextCursor
	}
}

// TransactionStatus reports whether a submitted transaction succeeded.
func (c *Client) TransactionStatus(ctx context.Context, digest string) (*web3.TransactionStatus, error) {
	var resp struct {
		Digest      string         `json:"digest"`
		TimestampMs string         `json:"timestampMs"`
		Effects     map[string]any `json:"effects"`
	}
	opts := map[string]bool{"showEffects": true, "showInput": false}
	if err := c.call(ctx, &resp, "sui_getTransactionBlock", digest, opts); err != nil {
		return nil, err
	}
	status := effectsStatus(resp.Effects)
	if status != "success" {
		status = "failed"
	}
	return &web3.TransactionStatus{
		Digest:      resp.Digest,
		Status:      status,
		TimestampMs: resp.TimestampMs,
		Effects:     resp.Effects,
	}, nil
}

// BuildMoveCall asks the node to serialize a single Move call transaction.
func (c *Client) BuildMoveCall(ctx context.Context, req web3.MoveCallRequest) (*web3.TransactionBlock, error) {
	typeArgs := req.TypeArguments
	if typeArgs == nil {
		typeArgs = []string{}
	}
	args := req.Arguments
	if args == nil {
		args = []any{}
	}
	var block web3.TransactionBlock
	err := c.call(ctx, &block, "unsafe_moveCall",
		req.Signer, req.Package, req.Module, req.Function,
		typeArgs, args, optional(req.Gas), c.budget(req.GasBudget), nil)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// BuildPay serializes a coin transfer. SUI payments use unsafe_paySui so
// the input coins also pay for gas.
func (c *Client) BuildPay(ctx context.Context, req web3.PayRequest) (*web3.TransactionBlock, error) {
	if len(req.InputCoins) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账缺少输入 coin")
	}
	var (
		block web3.TransactionBlock
		err   error
	)
	if req.CoinType == "" || req.CoinType == web3.SUICoinType {
		err = c.call(ctx, &block, "unsafe_paySui",
			req.Signer, req.InputCoins, req.Recipients, req.Amounts, c.budget(req.GasBudget))
	} else {
		err = c.call(ctx, &block, "unsafe_pay",
			req.Signer, req.InputCoins, req.Recipients, req.Amounts, optional(req.Gas), c.budget(req.GasBudget))
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// Execute submits signed transaction bytes and waits for local execution.
// A node-side rejection is reported in the response rather than as an error.
func (c *Client) Execute(ctx context.Context, txBytes string, signatures []string) (*web3.ExecutionResponse, error) {
	var resp struct {
		Digest  string         `json:"digest"`
		Effects map[string]any `json:"effects"`
	}
	opts := map[string]bool{"showEffects": true}
	err := c.call(ctx, &resp, "sui_executeTransactionBlock", txBytes, signatures, opts, "WaitForLocalExecution")
	if err != nil {
		var rpcErr gethrpc.Error
		if errors.As(err, &rpcErr) {
			return &web3.ExecutionResponse{Status: "failed", Error: rpcErr.Error()}, nil
		}
		return nil, err
	}
	out := &web3.ExecutionResponse{Digest: resp.Digest, Effects: resp.Effects, Status: effectsStatus(resp.Effects)}
	if out.Status != "success" {
		out.Error = effectsError(resp.Effects)
		if out.Error == "" {
			out.Error = "transaction status " + out.Status
		}
	}
	return out, nil
}

func (c *Client) budget(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return c.gasBudget
}

func optional(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func effectsStatus(effects map[string]any) string {
	status, _ := effects["status"].(map[string]any)
	if s, ok := status["status"].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func effectsError(effects map[string]any) string {
	status, _ := effects["status"].(map[string]any)
	msg, _ := status["error"].(string)
	return msg
}
