package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"OpenMCP-Sui/internal/agent"
	"OpenMCP-Sui/internal/contactstore"
	"OpenMCP-Sui/internal/dispatcher"
	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/observability/metrics"
	"OpenMCP-Sui/internal/task"
	"OpenMCP-Sui/internal/web3"
	"OpenMCP-Sui/pkg/logger"
)

const (
	serviceName    = "Sui Blockchain AI Agent"
	serviceVersion = "1.0.0-mvp"
	maxBodyBytes   = 1 << 20
)

// ChatResolver 将自然语言解析为结果。
type ChatResolver interface {
	Chat(ctx context.Context, message, account string) (*agent.Outcome, error)
}

// TransactionExecutor 执行交易描述。
type TransactionExecutor interface {
	Execute(ctx context.Context, req dispatcher.Request) (*dispatcher.ExecutionResult, error)
}

// ContactBook 读写链下加密通讯录。
type ContactBook interface {
	Save(ctx context.Context, account string, contact contactstore.Contact) (string, error)
	List(ctx context.Context, account string) ([]contactstore.Contact, error)
}

// TransactionReader 查询已提交交易的状态。
type TransactionReader interface {
	TransactionStatus(ctx context.Context, digest string) (*web3.TransactionStatus, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	resolver ChatResolver
	executor TransactionExecutor
	tasks    *task.Service
	contacts ContactBook
	ledger   TransactionReader
	log      *slog.Logger
}

// Option 为 Server 注入依赖，未注入的能力对应接口返回 503。
type Option func(*Server)

// WithResolver 配置对话解析器。
func WithResolver(r ChatResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithExecutor 配置交易执行器。
func WithExecutor(e TransactionExecutor) Option {
	return func(s *Server) { s.executor = e }
}

// WithTaskService 配置异步任务服务。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithContacts 配置链下通讯录。
func WithContacts(c ContactBook) Option {
	return func(s *Server) { s.contacts = c }
}

// WithTransactionReader 配置交易状态查询。
func WithTransactionReader(r TransactionReader) Option {
	return func(s *Server) { s.ledger = r }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{addr: addr, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/chat", "chat", s.handleChat)
	s.route(mux, "POST /api/v1/execute", "execute", s.handleExecute)
	s.route(mux, "POST /api/v1/tasks", "tasks_create", s.handleCreateTask)
	s.route(mux, "GET /api/v1/tasks", "tasks_list", s.handleListTasks)
	s.route(mux, "GET /api/v1/tasks/stats", "tasks_stats", s.handleTaskStats)
	s.route(mux, "GET /api/v1/tasks/{id}", "tasks_detail", s.handleTaskDetail)
	s.route(mux, "POST /api/v1/contacts/save", "contacts_save", s.handleSaveContact)
	s.route(mux, "GET /api/v1/contacts/list", "contacts_list", s.handleListContacts)
	s.route(mux, "GET /api/v1/transactions/{digest}", "transaction_status", s.handleTransactionStatus)
	s.route(mux, "GET /api/v1/health", "health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// route 为处理器附加请求 ID、指标与访问日志。
func (s *Server) route(mux *http.ServeMux, pattern, name string, handler http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(rec, r.Body, maxBodyBytes)

		handler(rec, r)

		duration := time.Since(start)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, duration)
		s.log.Info("api_request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 按错误码映射 HTTP 状态码；未分类的错误带上统一前缀。
func (s *Server) writeError(w http.ResponseWriter, err error, prefix string) {
	status := xerrors.StatusOf(err)
	body := errorBody{Code: string(xerrors.CodeOf(err))}
	if e, ok := xerrors.From(err); ok && status < http.StatusInternalServerError {
		body.Detail = e.Message()
	} else {
		body.Detail = prefix + ": " + err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error(prefix, slog.Any("error", err))
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func unavailable(what string) error {
	return xerrors.New(xerrors.CodeInitializationFailure, what+"未初始化")
}
