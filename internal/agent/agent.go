package agent

import (
	"context"
	"crypto/rand"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"OpenMCP-Sui/internal/directory"
	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/llm"
	"OpenMCP-Sui/internal/observability/metrics"
	"OpenMCP-Sui/internal/storage/mysql"
	"OpenMCP-Sui/internal/txbuilder"
	"OpenMCP-Sui/internal/web3"
	"OpenMCP-Sui/pkg/logger"
)

// Config 描述解析器依赖的链上模块。
type Config struct {
	AddressBook txbuilder.Module
	Staking     txbuilder.Module
	StakePoolID string
}

type handler func(ctx context.Context, in intent.Intent, account string) (*Outcome, error)

// Resolver 将结构化意图转换为信息回复或待签名交易，是系统的业务核心。
type Resolver struct {
	classifier  llm.Classifier
	ledger      web3.Reader
	tokens      *web3.TokenRegistry
	directory   *directory.Reader
	cfg         Config
	history     mysql.HistoryRepository
	memoryDepth int
	llmTimeout  time.Duration
	gas         GasEstimator
	nonce       func() ([]byte, error)
	now         func() time.Time
	handlers    map[intent.Action]handler
	log         *slog.Logger
}

// Option 定义可选的 Resolver 配置。
type Option func(*Resolver)

// defaultMemoryDepth 是分类时可参考的历史对话数量的默认值。
const defaultMemoryDepth = 5

// WithMemoryDepth 设置分类时可参考的历史对话数量。
func WithMemoryDepth(depth int) Option {
	return func(r *Resolver) {
		r.memoryDepth = depth
	}
}

// WithHistory 配置对话历史仓库。
func WithHistory(repo mysql.HistoryRepository) Option {
	return func(r *Resolver) {
		r.history = repo
	}
}

// WithLLMTimeout 设置调用分类器的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout <= 0 {
			r.llmTimeout = 0
			return
		}
		r.llmTimeout = timeout
	}
}

// WithGasEstimator 替换默认的固定 gas 估算。
func WithGasEstimator(g GasEstimator) Option {
	return func(r *Resolver) {
		if g != nil {
			r.gas = g
		}
	}
}

// WithNonceSource 替换联系人写入使用的随机数来源。
func WithNonceSource(fn func() ([]byte, error)) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.nonce = fn
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDirectoryOptions 传递通讯录读取器的配置，例如自定义解码顺序。
func WithDirectoryOptions(opts ...directory.Option) Option {
	return func(r *Resolver) {
		r.directory = directory.New(r.ledger, directory.Config{
			PackageID: r.cfg.AddressBook.PackageID,
			Module:    r.cfg.AddressBook.Name,
		}, opts...)
	}
}

// New 创建一个 Resolver。
func New(classifier llm.Classifier, ledger web3.Reader, tokens *web3.TokenRegistry, cfg Config, opts ...Option) *Resolver {
	if tokens == nil {
		tokens = web3.NewTokenRegistry(nil)
	}
	r := &Resolver{
		classifier:  classifier,
		ledger:      ledger,
		tokens:      tokens,
		cfg:         cfg,
		memoryDepth: defaultMemoryDepth,
		gas:         FlatGasEstimator(DefaultGasEstimate),
		nonce:       randomNonce,
		now:         time.Now,
		log:         logger.Named("resolver"),
	}
	r.directory = directory.New(ledger, directory.Config{
		PackageID: cfg.AddressBook.PackageID,
		Module:    cfg.AddressBook.Name,
	})
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.memoryDepth <= 0 {
		r.memoryDepth = defaultMemoryDepth
	}
	r.handlers = map[intent.Action]handler{
		intent.ActionAmbiguous:         r.handleAmbiguous,
		intent.ActionGetBalance:        r.handleGetBalance,
		intent.ActionGetStakeInfo:      r.handleGetStakeInfo,
		intent.ActionStakeToken:        r.handleStake,
		intent.ActionUnstakeToken:      r.handleUnstake,
		intent.ActionTransferToken:     r.handleTransfer,
		intent.ActionCreateAddressBook: r.handleCreateAddressBook,
		intent.ActionSaveContact:       r.handleSaveContact,
		intent.ActionListContacts:      r.handleListContacts,
	}
	return r
}

// missingAccountMessages 记录各操作缺少账户时返回给调用方的提示。
var missingAccountMessages = map[intent.Action]string{
	intent.ActionGetBalance:        "User address required for balance query",
	intent.ActionGetStakeInfo:      "User address required for stake info query",
	intent.ActionStakeToken:        "User address required for staking",
	intent.ActionUnstakeToken:      "User address required for unstaking",
	intent.ActionTransferToken:     "User address required for transfers",
	intent.ActionCreateAddressBook: "User address required to create address book",
	intent.ActionSaveContact:       "User address required to save contact",
	intent.ActionListContacts:      "User address required to list contacts",
}

// Resolve 根据意图选择处理流程，返回终态结果。
func (r *Resolver) Resolve(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	account = strings.TrimSpace(account)
	log := r.log.With(slog.String("action", string(in.Action)), slog.String("account", account))

	h, ok := r.handlers[in.Action]
	if !ok {
		log.Info("unrecognized action")
		out := informational(in, "I didn't understand that. Could you rephrase?")
		metrics.ObserveResolution(string(in.Action), string(out.State))
		return out, nil
	}

	if msg, scoped := missingAccountMessages[in.Action]; scoped && account == "" {
		log.Warn("account required")
		return nil, xerrors.New(xerrors.CodeMissingAccount, msg)
	}

	out, err := h(ctx, in, account)
	if err != nil {
		log.Error("resolution failed", slog.Any("error", err))
		return nil, err
	}

	log.Info("intent resolved",
		slog.String("state", string(out.State)),
		slog.Bool("ready", out.ReadyToExecute))
	metrics.ObserveResolution(string(in.Action), string(out.State))
	if out.Descriptor != nil {
		logger.Audit().Info("descriptor built",
			slog.String("account", account),
			slog.String("action", out.Descriptor.Action),
			slog.String("target", out.Descriptor.Target),
			slog.Bool("ready", out.ReadyToExecute))
	}
	return out, nil
}

// Chat 先调用分类器解析消息，再执行 Resolve，并记录对话历史。
func (r *Resolver) Chat(ctx context.Context, message, account string) (*Outcome, error) {
	if r.classifier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置意图分类器")
	}
	if strings.TrimSpace(message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}

	llmCtx, cancel := r.withLLMTimeout(ctx)
	defer cancel()

	in, err := r.classifier.ClassifyIntent(llmCtx, message, llm.Context{
		Account: account,
		History: r.loadHistory(ctx, account),
	})
	if err != nil {
		return nil, classifierError(err, "意图识别失败")
	}
	if in.ParsedData == nil {
		in.ParsedData = map[string]any{}
	}
	r.log.Info("intent classified",
		slog.String("action", string(in.Action)),
		slog.Float64("confidence", in.Confidence))

	out, err := r.Resolve(ctx, *in, account)
	if err != nil {
		return nil, err
	}
	r.recordHistory(ctx, account, message, out)
	return out, nil
}

func (r *Resolver) loadHistory(ctx context.Context, account string) []llm.HistoryEntry {
	if r.history == nil || account == "" {
		return nil
	}
	records, err := r.history.ListRecent(ctx, account, r.memoryDepth)
	if err != nil {
		r.log.Warn("load history failed", slog.Any("error", err))
		return nil
	}
	entries := make([]llm.HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, llm.HistoryEntry{
			Message:   record.Message,
			Action:    record.Action,
			Reply:     record.Reply,
			CreatedAt: record.CreatedAt,
		})
	}
	return entries
}

func (r *Resolver) recordHistory(ctx context.Context, account, message string, out *Outcome) {
	if r.history == nil || account == "" {
		return
	}
	record := &mysql.HistoryRecord{
		Account:   account,
		Message:   message,
		Action:    string(out.Intent.Action),
		State:     string(out.State),
		Reply:     out.Message,
		CreatedAt: r.now().Unix(),
	}
	if err := r.history.Save(ctx, record); err != nil {
		r.log.Warn("save history failed", slog.Any("error", err))
	}
}

func (r *Resolver) withLLMTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.llmTimeout > 0 {
		return context.WithTimeout(ctx, r.llmTimeout)
	}
	return ctx, func() {}
}

func classifierError(err error, msg string) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "分类器调用超时")
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeClassificationError, err, msg)
}

func ledgerError(err error, msg string) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "链上查询超时")
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, msg)
}

func randomNonce() ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
