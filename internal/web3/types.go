package web3

import (
	"context"
	"encoding/json"
	"errors"
)

// ObjectRef identifies an on-chain object returned by ownership queries.
type ObjectRef struct {
	ObjectID string `json:"objectId"`
	Version  string `json:"version"`
	Digest   string `json:"digest"`
	Type     string `json:"type,omitempty"`
}

// ObjectContent is the decoded Move content of an object. Fields keeps the
// raw JSON so callers can decode the struct layout they expect.
type ObjectContent struct {
	ObjectID string          `json:"objectId"`
	Type     string          `json:"type"`
	DataType string          `json:"dataType"`
	Fields   json.RawMessage `json:"fields"`
}

// Decode unmarshals the raw Move fields into out.
func (c *ObjectContent) Decode(out any) error {
	if c == nil || len(c.Fields) == 0 {
		return errors.New("对象内容为空")
	}
	return json.Unmarshal(c.Fields, out)
}

// Coin is a single coin object owned by an account.
type Coin struct {
	CoinObjectID string `json:"coinObjectId"`
	CoinType     string `json:"coinType"`
	Balance      string `json:"balance"`
}

// Balance is the human facing balance view of one token.
type Balance struct {
	Token     string `json:"token"`
	Balance   string `json:"balance"`
	Formatted string `json:"balance_formatted"`
}

// StakeInfo summarizes a staking pool and the caller's share of it.
type StakeInfo struct {
	PoolID      string `json:"pool_id"`
	TotalStaked string `json:"total_staked"`
	UserStaked  string `json:"user_staked"`
}

// DynamicFieldName addresses an entry of a Table or Bag.
type DynamicFieldName struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// MoveCallRequest asks the node to assemble a single Move call.
type MoveCallRequest struct {
	Signer        string
	Package       string
	Module        string
	Function      string
	TypeArguments []string
	Arguments     []any
	Gas           string
	GasBudget     string
}

// PayRequest asks the node to assemble a split and transfer of coins.
type PayRequest struct {
	Signer     string
	CoinType   string
	InputCoins []string
	Recipients []string
	Amounts    []string
	Gas        string
	GasBudget  string
}

// TransactionBlock carries unsigned BCS transaction bytes in base64.
type TransactionBlock struct {
	TxBytes string `json:"txBytes"`
}

// ExecutionResponse is the node's answer to a signed submission.
type ExecutionResponse struct {
	Digest  string         `json:"digest"`
	Effects map[string]any `json:"effects,omitempty"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
}

// TransactionStatus is the finalized status of a past transaction.
type TransactionStatus struct {
	Digest      string         `json:"digest"`
	Status      string         `json:"status"`
	TimestampMs string         `json:"timestamp_ms,omitempty"`
	Effects     map[string]any `json:"effects,omitempty"`
}

// Reader is the read side of the ledger used for resolution.
type Reader interface {
	OwnedObjectsByType(ctx context.Context, owner, structType string) ([]ObjectRef, error)
	ObjectContents(ctx context.Context, objectID string) (*ObjectContent, error)
	DynamicFieldObject(ctx context.Context, parentID string, name DynamicFieldName) (*ObjectContent, error)
	Balance(ctx context.Context, owner, coinType string) (string, error)
	Coins(ctx context.Context, owner, coinType string) ([]Coin, error)
	TransactionStatus(ctx context.Context, digest string) (*TransactionStatus, error)
}

// Writer builds and submits transactions.
type Writer interface {
	BuildMoveCall(ctx context.Context, req MoveCallRequest) (*TransactionBlock, error)
	BuildPay(ctx context.Context, req PayRequest) (*TransactionBlock, error)
	Execute(ctx context.Context, txBytes string, signatures []string) (*ExecutionResponse, error)
}

// Client defines the interface any network implementation must provide.
type Client interface {
	Reader
	Writer
	Close()
}
