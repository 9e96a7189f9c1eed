package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/llm"
)

// Client 通过调用 Python 脚本完成意图识别。
//
// 脚本从 stdin 读取一个 JSON 请求 {"operation": ..., ...}，并在 stdout
// 输出对应的 JSON 结果。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
	now        func() time.Time
}

var _ llm.Classifier = (*Client)(nil)

const (
	opClassify = "classify_intent"
	opConfirm  = "generate_confirmation"
)

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
		now:        time.Now,
	}, nil
}

// ClassifyIntent 调用外部脚本解析意图。
func (c *Client) ClassifyIntent(ctx context.Context, message string, cctx llm.Context) (*intent.Intent, error) {
	payload := map[string]any{
		"operation": opClassify,
		"message":   message,
		"user_context": map[string]any{
			"user_address": cctx.Account,
		},
		"history":   cctx.History,
		"timestamp": c.now().Unix(),
	}

	var out intent.Intent
	if err := c.run(ctx, payload, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(out.Action)) == "" {
		return nil, xerrors.New(xerrors.CodeClassificationError, "Python 输出缺少 action 字段")
	}
	if out.ParsedData == nil {
		out.ParsedData = map[string]any{}
	}
	return &out, nil
}

// GenerateConfirmation 调用外部脚本生成交易预演摘要。
func (c *Client) GenerateConfirmation(ctx context.Context, req llm.ConfirmationRequest) (*llm.Confirmation, error) {
	payload := map[string]any{
		"operation": opConfirm,
		"request":   req,
		"timestamp": c.now().Unix(),
	}

	var out llm.Confirmation
	if err := c.run(ctx, payload, &out); err != nil {
		return nil, err
	}
	if out.EstimatedGasFee == "" {
		out.EstimatedGasFee = req.EstimatedGas
	}
	out.RiskLevel = strings.ToLower(strings.TrimSpace(out.RiskLevel))
	return &out, nil
}

func (c *Client) run(ctx context.Context, payload map[string]any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeClassificationError, err, "序列化请求失败")
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "Python 脚本执行超时")
		}
		return xerrors.Wrap(xerrors.CodeClassificationError, err,
			fmt.Sprintf("执行 Python 脚本失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return xerrors.Wrap(xerrors.CodeClassificationError, err, "解析 Python 输出失败")
	}
	return nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
