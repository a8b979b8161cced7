package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	configPath := filepath.Join(base, "crosspost.toml")
	contents := fmt.Sprintf(`[paths]
work_dir = %q
log_dir = %q
api_bind = "127.0.0.1:0"

[youtube]
enabled = true
client_id = "test-client"
client_secret = "test-secret"
`, filepath.Join(base, "work"), filepath.Join(base, "logs"))
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSubmitAndQueueList(t *testing.T) {
	configPath := writeTestConfig(t)

	out, err := runCommand(t,
		"--config", configPath,
		"submit", "https://cdn.example.com/raw/clip.mov",
		"--user", "1",
		"--platform", "youtube",
		"--title", "CLI Clip",
	)
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Queued job ") {
		t.Fatalf("unexpected submit output: %s", out)
	}

	out, err = runCommand(t, "--config", configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v\n%s", err, out)
	}
	if !strings.Contains(out, "CLI Clip") || !strings.Contains(out, "queued") {
		t.Fatalf("job missing from queue list: %s", out)
	}
}

func TestSubmitRejectsDisabledPlatform(t *testing.T) {
	configPath := writeTestConfig(t)

	out, err := runCommand(t,
		"--config", configPath,
		"submit", "https://cdn.example.com/raw/clip.mov",
		"--user", "1",
		"--platform", "tiktok",
		"--title", "CLI Clip",
	)
	if err == nil {
		t.Fatalf("expected error for disabled platform, got output: %s", out)
	}
}

func TestQueueListEmpty(t *testing.T) {
	configPath := writeTestConfig(t)

	out, err := runCommand(t, "--config", configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "config.toml")

	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample config") {
		t.Fatalf("unexpected init output: %s", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	// A second init must refuse to overwrite.
	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected overwrite refusal")
	}

	// The sample ships without platform credentials; show must still render
	// it and point at what is missing.
	out, err = runCommand(t, "--config", target, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "Config file: ") {
		t.Fatalf("unexpected show output: %s", out)
	}
	if !strings.Contains(out, "Warning: ") || !strings.Contains(out, "youtube.client_id") {
		t.Fatalf("expected credential warning in show output: %s", out)
	}
}

func TestCredentialsStoreAndList(t *testing.T) {
	configPath := writeTestConfig(t)

	out, err := runCommand(t,
		"--config", configPath,
		"credentials", "store",
		"--user", "7",
		"--provider", "youtube",
		"--access-token", "token-1",
		"--refresh-token", "refresh-1",
	)
	if err != nil {
		t.Fatalf("credentials store: %v\n%s", err, out)
	}

	out, err = runCommand(t, "--config", configPath, "credentials", "list")
	if err != nil {
		t.Fatalf("credentials list: %v", err)
	}
	if !strings.Contains(out, "youtube") || !strings.Contains(out, "7") {
		t.Fatalf("credential missing from list: %s", out)
	}
}

func TestQueueRetryUnknownJob(t *testing.T) {
	configPath := writeTestConfig(t)

	if _, err := runCommand(t, "--config", configPath, "queue", "retry", "no-such-id"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
