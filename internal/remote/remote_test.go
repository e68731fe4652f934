package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/rcm/internal/testutil/testlog"
)

func TestJoinCommandEscaping(t *testing.T) {
	testlog.Start(t)

	got := joinCommand("echo", []string{"a b", "quote'v"})
	want := "'echo' 'a b' 'quote'\"'\"'v'"
	if got != want {
		t.Fatalf("unexpected joined command\nwant: %s\ngot:  %s", want, got)
	}
}

func TestScripts(t *testing.T) {
	if got := uploadScript("/etc/rathole/server.toml"); got != "mkdir -p '/etc/rathole' && cat > '/etc/rathole/server.toml'" {
		t.Fatalf("unexpected upload script: %s", got)
	}
	want := "if [ -f '/srv/Caddyfile' ]; then cat '/srv/Caddyfile'; else exit 44; fi"
	if got := downloadScript("/srv/Caddyfile"); got != want {
		t.Fatalf("unexpected download script\nwant: %s\ngot:  %s", want, got)
	}
}

func TestExpandHome(t *testing.T) {
	cases := map[string]string{
		"~":                        "/home/ops",
		"~/rathole-caddy/caddy":    "/home/ops/rathole-caddy/caddy",
		"/etc/rathole/client.toml": "/etc/rathole/client.toml",
		"~other/file":              "~other/file",
	}
	for in, want := range cases {
		if got := expandHome(in, "/home/ops"); got != want {
			t.Fatalf("expandHome(%q) = %q, want %q", in, got, want)
		}
		if needsHome(in) != (in != want) {
			t.Fatalf("needsHome(%q) disagrees with expansion", in)
		}
	}
}

func TestConfigAddressValidation(t *testing.T) {
	c := Config{}
	if _, err := c.address(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected host validation error, got %v", err)
	}

	c.Host = "node-a"
	addr, err := c.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:22" {
		t.Fatalf("expected default ssh port, got %q", addr)
	}

	c.Port = "2222"
	if addr, _ := c.address(); addr != "node-a:2222" {
		t.Fatalf("expected explicit port, got %q", addr)
	}
}

func TestConfigClientConfigValidation(t *testing.T) {
	c := Config{Host: "node-a"}
	if _, err := c.clientConfig(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected missing user validation error, got %v", err)
	}

	c.User = "root"
	if _, err := c.clientConfig(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected missing key validation error, got %v", err)
	}

	c.KeyPath = filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(c.KeyPath, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := c.clientConfig(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected key parse error, got %v", err)
	}
}

func TestDialFailsFastOnConfigErrors(t *testing.T) {
	start := time.Now()
	_, err := Dial(context.Background(), Config{Host: "node-a", DialAttempts: 5, DialDelay: time.Second})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("config errors must not be retried")
	}
}

func TestCommandErrorMapping(t *testing.T) {
	err := commandError("true", errors.New("session broke"), "")
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		t.Fatalf("transport failure must not become CommandError: %v", err)
	}

	msg := (&CommandError{Command: "systemctl", ExitStatus: 3, Stderr: "unit failed\n"}).Error()
	if msg != "remote: systemctl exited with status 3: unit failed" {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestRetryableClassification(t *testing.T) {
	if retryable(context.Canceled) {
		t.Fatalf("cancellation must not retry")
	}
	if retryable(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey]")) {
		t.Fatalf("auth failures must not retry")
	}
	if !retryable(errors.New("dial tcp 10.0.0.1:22: connect: connection refused")) {
		t.Fatalf("refused connections should retry")
	}
}
