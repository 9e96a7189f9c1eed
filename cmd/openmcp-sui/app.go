package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"OpenMCP-Sui/internal/agent"
	"OpenMCP-Sui/internal/config"
	"OpenMCP-Sui/internal/contactstore"
	"OpenMCP-Sui/internal/dispatcher"
	"OpenMCP-Sui/internal/llm"
	"OpenMCP-Sui/internal/llm/openai"
	"OpenMCP-Sui/internal/llm/pythonbridge"
	"OpenMCP-Sui/internal/storage/mysql"
	"OpenMCP-Sui/internal/storage/redis"
	"OpenMCP-Sui/internal/storage/walrus"
	"OpenMCP-Sui/internal/txbuilder"
	"OpenMCP-Sui/internal/web3"
	"OpenMCP-Sui/internal/web3/provider"
	"OpenMCP-Sui/pkg/logger"
)

// app 汇总进程内共享的组件。
type app struct {
	cfg        *config.Config
	ledger     web3.Client
	resolver   *agent.Resolver
	dispatcher *dispatcher.Dispatcher
	contacts   *contactstore.Store
	closers    []func() error
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

// newApp 按配置组装分类器、链上客户端、历史仓库、解析器与执行器。
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := provider.NewRegistry(ctx, *cfg, provider.DialSui)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { registry.Close(); return nil })
	ledger, err := registry.DefaultClient()
	if err != nil {
		return nil, err
	}
	a.ledger = ledger

	history, err := newHistoryRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer, ok := history.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	a.resolver = agent.New(classifier, ledger, registry.Tokens(), agent.Config{
		AddressBook: txbuilder.Module{PackageID: cfg.Sui.AddressBookPackageID, Name: cfg.Sui.AddressBookModule},
		Staking:     txbuilder.Module{PackageID: cfg.Sui.StakePackageID, Name: cfg.Sui.StakeModule},
		StakePoolID: cfg.Sui.StakePoolID,
	},
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithHistory(history),
		agent.WithLLMTimeout(cfg.LLMTimeout()),
	)
	a.dispatcher = dispatcher.New(ledger,
		dispatcher.WithGasBudget(cfg.Sui.GasBudget),
		dispatcher.WithTokens(registry.Tokens()),
	)

	contacts, err := a.newContactStore(ctx)
	if err != nil {
		return nil, err
	}
	a.contacts = contacts

	logger.L().Info("组件初始化完成",
		slog.String("network", registry.DefaultNetwork()),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("history", cfg.Storage.History.Driver),
		slog.Bool("contacts", contacts != nil),
	)
	return a, nil
}

// Close 逆序释放资源。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}
	a.closers = nil
}

func newClassifier(cfg *config.Config) (llm.Classifier, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func newHistoryRepository(ctx context.Context, cfg *config.Config) (mysql.HistoryRepository, error) {
	h := cfg.Storage.History
	switch strings.ToLower(h.Driver) {
	case "mysql":
		return mysql.NewSQLHistoryRepository(ctx, mysql.Config{
			DSN:             h.DSN,
			MaxOpenConns:    h.MaxOpenConns,
			MaxIdleConns:    h.MaxIdleConns,
			ConnMaxLifetime: time.Duration(h.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return mysql.NewMemoryHistoryRepository(cfg.Runtime.DataDir)
	}
}

// newContactStore 在未配置 secret_key 时返回 nil，对应接口将返回 503。
func (a *app) newContactStore(ctx context.Context) (*contactstore.Store, error) {
	c := a.cfg.Contacts
	if strings.TrimSpace(c.SecretKey) == "" {
		logger.L().Warn("未配置 contacts.secret_key，链下通讯录已禁用")
		return nil, nil
	}
	blobs, err := walrus.NewClient(walrus.Config{
		PublisherURL:  c.PublisherURL,
		AggregatorURL: c.AggregatorURL,
		Epochs:        c.Epochs,
	})
	if err != nil {
		return nil, err
	}

	var index contactstore.Index
	switch strings.ToLower(c.Index.Driver) {
	case "redis":
		idx, err := redis.NewIndex(ctx, redis.IndexConfig{
			Address:  c.Index.Redis.Address,
			Password: c.Index.Redis.Password,
			DB:       c.Index.Redis.DB,
			Prefix:   c.Index.Prefix,
			TTL:      time.Duration(c.Index.TTLHours) * time.Hour,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		index = idx
	default:
		index = contactstore.NewMemoryIndex()
	}
	return contactstore.New(blobs, index, c.SecretKey)
}
