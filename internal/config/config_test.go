package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/rcm/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const minimalTOML = `
[paths]
caddyfile = "/srv/Caddyfile"

[server]
host = "vps.example.com"

[client]
host = "home.lan"
user = "ops"
port = "2222"

[rathole]
token = "secret"

[deploy]
timeout = "45s"
`

func TestLoadTOMLOverlaysDefaults(t *testing.T) {
	testlog.Start(t)

	cfg, err := Load(writeFile(t, "config.toml", minimalTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.User != "root" || cfg.Server.TunnelUnit != "rathole-server" || cfg.Rathole.BindPort != 2333 {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.Client.Port != "2222" || cfg.Client.User != "ops" {
		t.Fatalf("client not decoded: %+v", cfg.Client)
	}
	if cfg.Deploy.Timeout != 45*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Deploy.Timeout)
	}
	if !strings.HasSuffix(cfg.Source, "config.toml") {
		t.Fatalf("source not recorded: %q", cfg.Source)
	}
}

func TestLoadLegacyYAML(t *testing.T) {
	doc := `paths:
  caddyfile: /srv/Caddyfile
  ssh_dir: /keys
server:
  host: 203.0.113.10
  ssh_key: id_rsa
client:
  host: 192.168.1.2
  user: ops
rathole:
  bind_port: 2400
  token: secret
  server_private_key: priv
  server_public_key: pub
`
	cfg, err := Load(writeFile(t, "config.yaml", doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Rathole.BindPort != 2400 || cfg.Rathole.ServerPublicKey != "pub" {
		t.Fatalf("rathole not decoded: %+v", cfg.Rathole)
	}
	key, err := cfg.KeyPath(cfg.Server.SSHKey)
	if err != nil || key != "/keys/id_rsa" {
		t.Fatalf("unexpected key path %q: %v", key, err)
	}
	if abs, _ := cfg.KeyPath("/abs/key"); abs != "/abs/key" {
		t.Fatalf("absolute key path rewritten: %q", abs)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "config.toml", minimalTOML+"\n[server.extra]\nfoo = 1\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Default()
	cfg.Rathole.ServerPrivateKey = "only-half"
	cfg.Deploy.Conflicts = "newest"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{
		"paths.caddyfile", "server.host", "client.host", "client.user",
		"rathole.token", "must be set together", "deploy.conflicts",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestValidateLocalClientNeedsNoSSH(t *testing.T) {
	cfg := Default()
	cfg.Paths.Caddyfile = "~/caddy/Caddyfile"
	cfg.Server.Host = "203.0.113.10"
	cfg.Rathole.Token = "secret"
	cfg.Client.Local = true

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected local client to validate, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RCM_SERVER_HOST", "override.example.com")
	t.Setenv("RCM_RATHOLE_TOKEN", "from-env")
	t.Setenv("RCM_DEPLOY_PARALLEL", "true")

	cfg, err := Load(writeFile(t, "config.toml", minimalTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Host != "override.example.com" || cfg.Rathole.Token != "from-env" || !cfg.Deploy.Parallel {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	t.Setenv("RCM_DEPLOY_TIMEOUT", "soon")
	if _, err := Load(writeFile(t, "config.toml", minimalTOML)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid timeout override, got %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("RCM_CONFIG_PATH", "")
	t.Setenv("CONFIG_PATH", "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Fatalf("expected default path, got %q", got)
	}
	t.Setenv("CONFIG_PATH", "/legacy.yaml")
	if got := ResolvePath(""); got != "/legacy.yaml" {
		t.Fatalf("expected CONFIG_PATH, got %q", got)
	}
	t.Setenv("RCM_CONFIG_PATH", "/rcm.toml")
	if got := ResolvePath(""); got != "/rcm.toml" {
		t.Fatalf("expected RCM_CONFIG_PATH, got %q", got)
	}
	if got := ResolvePath("/flag.toml"); got != "/flag.toml" {
		t.Fatalf("expected flag path, got %q", got)
	}
}

func TestTemplatesLoad(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yaml"} {
		path := filepath.Join(t.TempDir(), "nested", name)
		if err := WriteTemplate(path, TemplateKind(path), false); err != nil {
			t.Fatalf("write template: %v", err)
		}
		if err := WriteTemplate(path, TemplateKind(path), false); err == nil {
			t.Fatalf("expected existing file error")
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("template %s does not load: %v", name, err)
		}
		if cfg.Server.Host != "203.0.113.10" {
			t.Fatalf("unexpected template host: %q", cfg.Server.Host)
		}
	}
	if _, err := Template("ini"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
