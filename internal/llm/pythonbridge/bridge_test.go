package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/llm"
)

// writeScript creates a shell script that ignores stdin and prints body.
func writeScript(t *testing.T, body string) *Client {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found")
	}
	path := filepath.Join(t.TempDir(), "bridge.sh")
	script := "cat >/dev/null\ncat <<'JSON'\n" + body + "\nJSON\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	client, err := NewClient(sh, path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestNewClientRequiresScript(t *testing.T) {
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatalf("expected error without script path")
	}
}

func TestClassifyIntent(t *testing.T) {
	client := writeScript(t, `{"action":"get_balance","parsed_data":{"token":"USDC"},"confidence":0.9}`)
	got, err := client.ClassifyIntent(context.Background(), "usdc balance", llm.Context{Account: "0xabc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != intent.ActionGetBalance || got.String(intent.KeyToken) != "USDC" {
		t.Fatalf("unexpected intent: %+v", got)
	}
}

func TestGenerateConfirmation(t *testing.T) {
	client := writeScript(t, `{"action_description":"send 1 SUI","risk_level":"Low"}`)
	got, err := client.GenerateConfirmation(context.Background(), llm.ConfirmationRequest{EstimatedGas: "0.002"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RiskLevel != "low" || got.EstimatedGasFee != "0.002" {
		t.Fatalf("unexpected confirmation: %+v", got)
	}
}

func TestInvalidOutput(t *testing.T) {
	client := writeScript(t, `oops`)
	_, err := client.ClassifyIntent(context.Background(), "hi", llm.Context{})
	if !xerrors.HasCode(err, xerrors.CodeClassificationError) {
		t.Fatalf("expected classification error, got %v", err)
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/srv", "bridge.py"); got != filepath.Join("/srv", "bridge.py") {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := ResolveScriptPath("/srv", "/abs/bridge.py"); got != "/abs/bridge.py" {
		t.Fatalf("absolute path should be kept: %s", got)
	}
}
