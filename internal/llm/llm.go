package llm

import (
	"context"

	"OpenMCP-Sui/internal/intent"
)

// Classifier 定义了意图识别与交易确认文案生成的统一接口。
type Classifier interface {
	ClassifyIntent(ctx context.Context, message string, cctx Context) (*intent.Intent, error)
	GenerateConfirmation(ctx context.Context, req ConfirmationRequest) (*Confirmation, error)
}

// Context 是随消息一起提供给分类器的上下文。
type Context struct {
	Account string
	History []HistoryEntry
}

// HistoryEntry 描述了一次已完成的对话，用于为分类器提供记忆。
type HistoryEntry struct {
	Message   string `json:"message"`
	Action    string `json:"action"`
	Reply     string `json:"reply"`
	CreatedAt int64  `json:"created_at"`
}

// ConfirmationRequest 描述待确认的交易。
type ConfirmationRequest struct {
	Action        string         `json:"action"`
	ParsedData    map[string]any `json:"parsed_data"`
	SenderBalance string         `json:"sender_balance"`
	EstimatedGas  string         `json:"estimated_gas"`
}

// Confirmation 是交易执行前展示给用户的预演摘要。
type Confirmation struct {
	ActionDescription string   `json:"action_description"`
	EstimatedGasFee   string   `json:"estimated_gas_fee"`
	RiskLevel         string   `json:"risk_level"`
	Warnings          []string `json:"warnings,omitempty"`
}

// RiskHigh marks confirmations that must not be auto-approved.
const RiskHigh = "high"

// HighRisk reports whether the confirmation requires explicit re-confirmation.
func (c *Confirmation) HighRisk() bool {
	return c != nil && c.RiskLevel == RiskHigh
}
