package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	historyLimit     = 5
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 完成意图识别与确认文案生成。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ llm.Classifier = (*Client)(nil)

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ClassifyIntent 调用 OpenAI 将自然语言解析为结构化意图。
func (c *Client) ClassifyIntent(ctx context.Context, message string, cctx llm.Context) (*intent.Intent, error) {
	content, err := c.complete(ctx, classifySystemPrompt, buildClassifyPrompt(message, cctx), intentSchema())
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Action                string         `json:"action"`
		ParsedData            map[string]any `json:"parsed_data"`
		Confidence            float64        `json:"confidence"`
		ClarificationQuestion *string        `json:"clarification_question"`
	}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeClassificationError, err, "解析意图 JSON 失败")
	}
	if strings.TrimSpace(decoded.Action) == "" {
		return nil, xerrors.New(xerrors.CodeClassificationError, "意图缺少 action 字段")
	}

	out := &intent.Intent{
		Action:     intent.Action(strings.TrimSpace(decoded.Action)),
		ParsedData: decoded.ParsedData,
		Confidence: decoded.Confidence,
	}
	if out.ParsedData == nil {
		out.ParsedData = map[string]any{}
	}
	if decoded.ClarificationQuestion != nil {
		out.ClarificationQuestion = strings.TrimSpace(*decoded.ClarificationQuestion)
	}
	return out, nil
}

// GenerateConfirmation 调用 OpenAI 生成交易预演摘要。
func (c *Client) GenerateConfirmation(ctx context.Context, req llm.ConfirmationRequest) (*llm.Confirmation, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeClassificationError, err, "序列化确认请求失败")
	}
	content, err := c.complete(ctx, confirmSystemPrompt, string(encoded), confirmationSchema())
	if err != nil {
		return nil, err
	}

	var conf llm.Confirmation
	if err := json.Unmarshal([]byte(content), &conf); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeClassificationError, err, "解析确认摘要失败")
	}
	if conf.EstimatedGasFee == "" {
		conf.EstimatedGasFee = req.EstimatedGas
	}
	conf.RiskLevel = strings.ToLower(strings.TrimSpace(conf.RiskLevel))
	return &conf, nil
}

func (c *Client) complete(ctx context.Context, system, user string, schema map[string]any) (string, error) {
	payload, err := c.buildPayload(system, user, schema)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeClassificationError, err, "构建 OpenAI 请求失败")
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "请求 OpenAI 超时")
		}
		return "", xerrors.Wrap(xerrors.CodeClassificationError, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", xerrors.New(xerrors.CodeClassificationError,
			fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeClassificationError, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeClassificationError, "OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", xerrors.New(xerrors.CodeClassificationError, "OpenAI 响应内容为空")
	}
	return content, nil
}

func (c *Client) buildPayload(system, user string, schema map[string]any) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	body := map[string]any{
		"model": c.model,
		"messages": []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"temperature": 0.1,
		"response_format": map[string]any{
			"type":        "json_schema",
			"json_schema": schema,
		},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeClassificationError, err, "序列化 OpenAI 请求失败")
	}
	return encoded, nil
}

func buildClassifyPrompt(message string, cctx llm.Context) string {
	var builder strings.Builder
	builder.WriteString("## User message\n")
	builder.WriteString(strings.TrimSpace(message))
	builder.WriteString("\n")
	if account := strings.TrimSpace(cctx.Account); account != "" {
		builder.WriteString(fmt.Sprintf("\n## User address\n%s\n", account))
	}

	if len(cctx.History) > 0 {
		builder.WriteString("\n## Recent conversation\n")
		for idx, entry := range cctx.History {
			if idx >= historyLimit {
				break
			}
			builder.WriteString(fmt.Sprintf("[%d] user:%s | action:%s | reply:%s\n",
				idx+1,
				truncate(entry.Message),
				entry.Action,
				truncate(entry.Reply),
			))
		}
	}
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
