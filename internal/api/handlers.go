package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"OpenMCP-Sui/internal/contactstore"
	"OpenMCP-Sui/internal/dispatcher"
	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/task"
)

// chatRequest 忽略客户端附带的 context 等额外字段，账户只取 user_address。
type chatRequest struct {
	Message     string `json:"message"`
	UserAddress string `json:"user_address"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		s.writeError(w, unavailable("意图解析器"), "Error processing request")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err, "Error processing request")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "message is required"), "Error processing request")
		return
	}
	outcome, err := s.resolver.Chat(r.Context(), req.Message, req.UserAddress)
	if err != nil {
		s.writeError(w, err, "Error processing request")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// nestedCredential 兼容把 private_key 放在 transaction_data 内的旧请求格式。
type nestedCredential struct {
	TransactionData struct {
		PrivateKey string `json:"private_key"`
	} `json:"transaction_data"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		s.writeError(w, unavailable("交易执行器"), "Internal server error")
		return
	}
	var raw json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		s.writeError(w, err, "Internal server error")
		return
	}
	var req dispatcher.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"), "Internal server error")
		return
	}
	if req.Credential == "" {
		var nested nestedCredential
		if err := json.Unmarshal(raw, &nested); err == nil {
			req.Credential = nested.TransactionData.PrivateKey
		}
	}
	result, err := s.executor.Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeError(w, unavailable("任务服务"), "创建任务失败")
		return
	}
	var req task.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err, "创建任务失败")
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err, "创建任务失败")
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeError(w, unavailable("任务服务"), "查询任务失败")
		return
	}
	tasks, err := s.tasks.List(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		s.writeError(w, err, "查询任务失败")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeError(w, unavailable("任务服务"), "统计任务失败")
		return
	}
	stats, err := s.tasks.Stats(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		s.writeError(w, err, "统计任务失败")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeError(w, unavailable("任务服务"), "查询任务失败")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空"), "查询任务失败")
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err, "查询任务失败")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func listOptionsFromQuery(r *http.Request) []task.ListOption {
	q := r.URL.Query()
	var opts []task.ListOption
	if raw := q.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithLimit(limit))
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithOffset(offset))
		}
	}
	if account := q.Get("user_address"); account != "" {
		opts = append(opts, task.WithAccount(account))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if query := q.Get("q"); query != "" {
		opts = append(opts, task.WithQuery(query))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts
}

type contactRequest struct {
	UserAddress    string `json:"user_address"`
	ContactName    string `json:"contact_name"`
	ContactAddress string `json:"contact_address"`
	Notes          string `json:"notes,omitempty"`
}

func (s *Server) handleSaveContact(w http.ResponseWriter, r *http.Request) {
	if s.contacts == nil {
		s.writeError(w, unavailable("通讯录存储"), "Error saving contact")
		return
	}
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err, "Error saving contact")
		return
	}
	blobID, err := s.contacts.Save(r.Context(), req.UserAddress, contactstore.Contact{
		Name:    req.ContactName,
		Address: req.ContactAddress,
		Notes:   req.Notes,
	})
	if err != nil {
		s.writeError(w, err, "Error saving contact")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Contact saved successfully",
		"blob_id": blobID,
	})
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	if s.contacts == nil {
		s.writeError(w, unavailable("通讯录存储"), "Error retrieving contacts")
		return
	}
	contacts, err := s.contacts.List(r.Context(), r.URL.Query().Get("user_address"))
	if err != nil {
		s.writeError(w, err, "Error retrieving contacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (s *Server) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, unavailable("链上客户端"), "Error retrieving transaction")
		return
	}
	digest := strings.TrimSpace(r.PathValue("digest"))
	if digest == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "digest is required"), "Error retrieving transaction")
		return
	}
	status, err := s.ledger.TransactionStatus(r.Context(), digest)
	if err != nil {
		s.writeError(w, err, "Error retrieving transaction")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}
