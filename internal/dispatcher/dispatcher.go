// Package dispatcher turns transaction descriptors into node transactions and
// reports a uniform result for delegated, pre-signed and client-side flows.
package dispatcher

import (
	"context"
	"encoding/base64"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/observability/metrics"
	"OpenMCP-Sui/internal/txbuilder"
	"OpenMCP-Sui/internal/web3"
	"OpenMCP-Sui/internal/web3/sui"
	"OpenMCP-Sui/pkg/logger"
)

// Execution modes.
const (
	ModeDelegated  = "delegated"
	ModePreSigned  = "pre_signed"
	ModeClientSide = "client_side"
)

// StatusReadyForSigning marks built but unsigned transactions.
const StatusReadyForSigning = "ready_for_signing"

// Ledger is the part of the node client the dispatcher needs.
type Ledger interface {
	Coins(ctx context.Context, owner, coinType string) ([]web3.Coin, error)
	web3.Writer
}

// Request 描述一次执行请求。Credential 与 Signature 互斥。
type Request struct {
	Descriptor *txbuilder.Descriptor `json:"transaction_data,omitempty"`
	Sender     string                `json:"user_address"`
	Credential string                `json:"private_key,omitempty"`
	Signature  string                `json:"signature,omitempty"`
	TxBytes    string                `json:"tx_bytes,omitempty"`
}

// ExecutionResult 汇总一次执行的结果。Digest 与 Effects 仅在成功时出现。
type ExecutionResult struct {
	Success bool           `json:"success"`
	Digest  string         `json:"digest,omitempty"`
	Effects map[string]any `json:"effects,omitempty"`
	Error   string         `json:"error,omitempty"`
	Status  string         `json:"status"`
}

// Dispatcher 负责构建、签名并提交交易。
type Dispatcher struct {
	ledger    Ledger
	tokens    *web3.TokenRegistry
	gasBudget string
	log       *slog.Logger
}

// Option 定义可选配置。
type Option func(*Dispatcher)

// WithGasBudget 设置构建交易时的 gas 预算（MIST）。
func WithGasBudget(budget string) Option {
	return func(d *Dispatcher) {
		d.gasBudget = strings.TrimSpace(budget)
	}
}

// WithTokens 替换默认的代币注册表。
func WithTokens(tokens *web3.TokenRegistry) Option {
	return func(d *Dispatcher) {
		if tokens != nil {
			d.tokens = tokens
		}
	}
}

// New 创建 Dispatcher。
func New(ledger Ledger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ledger: ledger,
		tokens: web3.NewTokenRegistry(nil),
		log:    logger.Named("dispatcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Execute 根据请求选择委托签名、预签名提交或客户端签名流程。
// 请求本身不合法时返回错误；执行过程中的失败体现在结果中。
func (d *Dispatcher) Execute(ctx context.Context, req Request) (*ExecutionResult, error) {
	switch {
	case req.TxBytes != "" && req.Signature != "":
		return d.submit(ctx, ModePreSigned, req.Sender, req.TxBytes, req.Signature), nil
	case req.Descriptor == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少交易描述或已签名交易")
	}

	var signer *sui.Signer
	sender := strings.TrimSpace(req.Sender)
	if req.Credential != "" {
		var err error
		signer, err = sui.NewSigner(req.Credential)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "私钥无效")
		}
		if sender != "" && !strings.EqualFold(sender, signer.Address()) {
			d.log.Warn("sender differs from credential address",
				slog.String("sender", sender), slog.String("signer", signer.Address()))
		}
		sender = signer.Address()
	}
	if sender == "" {
		return nil, xerrors.New(xerrors.CodeMissingAccount, "User address required to execute transactions")
	}

	if err := validate(req.Descriptor); err != nil {
		return nil, err
	}

	block, err := d.build(ctx, sender, *req.Descriptor)
	if err != nil {
		mode := ModeClientSide
		if signer != nil {
			mode = ModeDelegated
		}
		return d.fail(mode, sender, req.Descriptor.Action, err), nil
	}

	if signer == nil {
		raw, err := base64.StdEncoding.DecodeString(block.TxBytes)
		if err != nil {
			return d.fail(ModeClientSide, sender, req.Descriptor.Action,
				xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, "节点返回的交易字节无法解码")), nil
		}
		metrics.ObserveExecution(ModeClientSide, true)
		logger.Audit().Info("transaction built for client signing",
			slog.String("sender", sender), slog.String("action", req.Descriptor.Action))
		return &ExecutionResult{
			Success: true,
			Status:  StatusReadyForSigning,
			Effects: map[string]any{
				"status":            StatusReadyForSigning,
				"transaction_bytes": hexutil.Encode(raw),
				"message":           buildMessage(req.Descriptor.Action),
			},
		}, nil
	}

	sig, err := signer.SignTransaction(block.TxBytes)
	if err != nil {
		return d.fail(ModeDelegated, sender, req.Descriptor.Action, err), nil
	}
	return d.submit(ctx, ModeDelegated, sender, block.TxBytes, sig), nil
}

func validate(desc *txbuilder.Descriptor) error {
	switch desc.TransactionType {
	case txbuilder.TypeTransfer:
		if desc.Meta(txbuilder.MetaAmount) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "Missing amount for transfer")
		}
		if desc.Meta(txbuilder.MetaRecipient) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "Missing recipient for transfer")
		}
	case txbuilder.TypeMoveCall:
		if _, _, _, ok := desc.Package(); !ok {
			return xerrors.New(xerrors.CodeInvalidArgument, "交易目标格式应为 package::module::function",
				xerrors.WithMetadata("target", desc.Target))
		}
		if desc.Action == txbuilder.ActionStake || desc.Action == txbuilder.ActionUnstake {
			if desc.Meta(txbuilder.MetaAmount) == "" {
				return xerrors.New(xerrors.CodeInvalidArgument, "Missing amount for "+desc.Action)
			}
		}
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的交易类型 "+string(desc.TransactionType))
	}
	return nil
}

func (d *Dispatcher) build(ctx context.Context, sender string, desc txbuilder.Descriptor) (*web3.TransactionBlock, error) {
	if desc.TransactionType == txbuilder.TypeTransfer {
		return d.buildTransfer(ctx, sender, desc)
	}
	pkg, module, function, _ := desc.Package()
	args, err := txbuilder.MoveArguments(desc.Arguments)
	if err != nil {
		return nil, err
	}
	return d.ledger.BuildMoveCall(ctx, web3.MoveCallRequest{
		Signer:        sender,
		Package:       pkg,
		Module:        module,
		Function:      function,
		TypeArguments: desc.TypeArguments,
		Arguments:     args,
		GasBudget:     d.gasBudget,
	})
}

func (d *Dispatcher) buildTransfer(ctx context.Context, sender string, desc txbuilder.Descriptor) (*web3.TransactionBlock, error) {
	coinType := desc.Meta(txbuilder.MetaCoinType)
	if coinType == "" {
		token, err := d.tokens.Lookup(desc.Meta(txbuilder.MetaToken))
		if err != nil {
			return nil, err
		}
		coinType = token.CoinType
	}
	amount, ok := new(big.Int).SetString(desc.Meta(txbuilder.MetaAmount), 10)
	if !ok || amount.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "转账金额无效",
			xerrors.WithMetadata("amount", desc.Meta(txbuilder.MetaAmount)))
	}

	coins, err := d.ledger.Coins(ctx, sender, coinType)
	if err != nil {
		return nil, err
	}
	selected, err := selectCoins(coins, amount)
	if err != nil {
		return nil, err
	}
	return d.ledger.BuildPay(ctx, web3.PayRequest{
		Signer:     sender,
		CoinType:   coinType,
		InputCoins: selected,
		Recipients: []string{desc.Meta(txbuilder.MetaRecipient)},
		Amounts:    []string{amount.String()},
		GasBudget:  d.gasBudget,
	})
}

// selectCoins picks the largest coins until their sum covers amount.
func selectCoins(coins []web3.Coin, amount *big.Int) ([]string, error) {
	type balanced struct {
		id  string
		bal *big.Int
	}
	pool := make([]balanced, 0, len(coins))
	for _, c := range coins {
		bal, ok := new(big.Int).SetString(c.Balance, 10)
		if !ok {
			continue
		}
		pool = append(pool, balanced{id: c.CoinObjectID, bal: bal})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].bal.Cmp(pool[j].bal) > 0 })

	sum := new(big.Int)
	ids := make([]string, 0, len(pool))
	for _, c := range pool {
		ids = append(ids, c.id)
		sum.Add(sum, c.bal)
		if sum.Cmp(amount) >= 0 {
			return ids, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeInvalidAmount, "Insufficient balance for transfer",
		xerrors.WithMetadata("available", sum.String()),
		xerrors.WithMetadata("required", amount.String()))
}

func (d *Dispatcher) submit(ctx context.Context, mode, sender, txBytes, signature string) *ExecutionResult {
	resp, err := d.ledger.Execute(ctx, txBytes, []string{signature})
	if err != nil {
		return d.fail(mode, sender, "", err)
	}
	if resp.Status != "success" {
		reason := resp.Error
		if reason == "" {
			reason = "transaction failed"
		}
		return d.fail(mode, sender, "", xerrors.New(xerrors.CodeExecutionFailed, reason,
			xerrors.WithMetadata("digest", resp.Digest)))
	}

	metrics.ObserveExecution(mode, true)
	logger.Audit().Info("transaction executed",
		slog.String("mode", mode),
		slog.String("sender", sender),
		slog.String("digest", resp.Digest))
	return &ExecutionResult{
		Success: true,
		Digest:  resp.Digest,
		Effects: resp.Effects,
		Status:  resp.Status,
	}
}

func (d *Dispatcher) fail(mode, sender, action string, err error) *ExecutionResult {
	metrics.ObserveExecution(mode, false)
	d.log.Error("execution failed",
		slog.String("mode", mode),
		slog.String("sender", sender),
		slog.String("action", action),
		slog.Any("error", err))
	logger.Audit().Warn("transaction failed",
		slog.String("mode", mode),
		slog.String("sender", sender),
		slog.String("code", string(xerrors.CodeOf(err))))

	reason := err.Error()
	if e, ok := xerrors.From(err); ok && e.Code() == xerrors.CodeExecutionFailed {
		reason = e.Message()
	}
	return &ExecutionResult{Success: false, Error: reason, Status: "failed"}
}

func buildMessage(action string) string {
	switch action {
	case txbuilder.ActionStake:
		return "Stake transaction built. Sign with your wallet to execute."
	case txbuilder.ActionUnstake:
		return "Unstake transaction built. Sign with your wallet to execute."
	default:
		return "Transaction built successfully. Sign with your wallet to execute."
	}
}
