package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/vrischmann/envconfig"
	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound = errors.New("config: file not found")
	ErrInvalid  = errors.New("config: invalid")
)

const DefaultPath = "~/.config/rcm/config.toml"

type Config struct {
	Paths   Paths   `toml:"paths" yaml:"paths"`
	Server  Server  `toml:"server" yaml:"server"`
	Client  Client  `toml:"client" yaml:"client"`
	Rathole Rathole `toml:"rathole" yaml:"rathole"`
	Deploy  Deploy  `toml:"deploy" yaml:"deploy"`

	// Source is the file the config was read from.
	Source string `toml:"-" yaml:"-"`
}

type Paths struct {
	Caddyfile string `toml:"caddyfile" yaml:"caddyfile"`
	SSHDir    string `toml:"ssh_dir" yaml:"ssh_dir"`
}

// SSH holds the connection settings shared by both endpoints.
type SSH struct {
	Host                  string `toml:"host" yaml:"host"`
	Port                  string `toml:"port" yaml:"port"`
	User                  string `toml:"user" yaml:"user"`
	SSHKey                string `toml:"ssh_key" yaml:"ssh_key"`
	KnownHosts            string `toml:"known_hosts" yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `toml:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	Sudo                  bool   `toml:"sudo" yaml:"sudo"`

	// Local runs the endpoint's commands on this machine instead of over SSH.
	Local bool `toml:"local" yaml:"local"`
}

type Server struct {
	SSH             `yaml:",inline"`
	RatholeConfig   string `toml:"rathole_config" yaml:"rathole_config"`
	Caddyfile       string `toml:"caddyfile" yaml:"caddyfile"`
	CaddyComposeDir string `toml:"caddy_compose_dir" yaml:"caddy_compose_dir"`
	TunnelUnit      string `toml:"tunnel_unit" yaml:"tunnel_unit"`
	ProxyService    string `toml:"proxy_service" yaml:"proxy_service"`
}

type Client struct {
	SSH           `yaml:",inline"`
	RatholeConfig string `toml:"rathole_config" yaml:"rathole_config"`
	TunnelUnit    string `toml:"tunnel_unit" yaml:"tunnel_unit"`
}

type Rathole struct {
	BindPort         int    `toml:"bind_port" yaml:"bind_port"`
	Token            string `toml:"token" yaml:"token"`
	ServerPrivateKey string `toml:"server_private_key" yaml:"server_private_key"`
	ServerPublicKey  string `toml:"server_public_key" yaml:"server_public_key"`
	ServiceBindHost  string `toml:"service_bind_host" yaml:"service_bind_host"`
}

type Deploy struct {
	Timeout         time.Duration `toml:"timeout" yaml:"timeout"`
	DialAttempts    uint          `toml:"dial_attempts" yaml:"dial_attempts"`
	Parallel        bool          `toml:"parallel" yaml:"parallel"`
	Conflicts       string        `toml:"conflicts" yaml:"conflicts"`
	MetricsTextfile string        `toml:"metrics_textfile" yaml:"metrics_textfile"`
}

// Default mirrors the stock rathole-caddy layout.
func Default() Config {
	return Config{
		Paths: Paths{SSHDir: "~/.ssh"},
		Server: Server{
			SSH:             SSH{User: "root", SSHKey: "id_rsa", Sudo: true},
			RatholeConfig:   "/etc/rathole/server.toml",
			Caddyfile:       "~/rathole-caddy/caddy/Caddyfile",
			CaddyComposeDir: "~/rathole-caddy/caddy",
			TunnelUnit:      "rathole-server",
			ProxyService:    "caddy",
		},
		Client: Client{
			SSH:           SSH{SSHKey: "id_rsa", Sudo: true},
			RatholeConfig: "/etc/rathole/client.toml",
			TunnelUnit:    "rathole-client",
		},
		Rathole: Rathole{BindPort: 2333, ServiceBindHost: "0.0.0.0"},
		Deploy: Deploy{
			Timeout:      2 * time.Minute,
			DialAttempts: 3,
			Conflicts:    "first",
		},
	}
}

// ResolvePath picks the config file: explicit flag, then RCM_CONFIG_PATH,
// then CONFIG_PATH, then DefaultPath.
func ResolvePath(flag string) string {
	for _, candidate := range []string{flag, os.Getenv("RCM_CONFIG_PATH"), os.Getenv("CONFIG_PATH")} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return DefaultPath
}

// Load reads path (TOML, or YAML by extension) over Default, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	expanded, err := ExpandHome(path)
	if err != nil {
		return Config{}, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s (create one with `rcm init`)", ErrNotFound, expanded)
		}
		return Config{}, fmt.Errorf("config load failed (%s): %w", expanded, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = decodeYAML(expanded, &cfg)
	default:
		err = decodeTOML(expanded, &cfg)
	}
	if err != nil {
		return Config{}, err
	}
	cfg.Source = expanded

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeTOML(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// overrides are read with envconfig; empty values leave the file's setting.
type overrides struct {
	Caddyfile        string `envconfig:"RCM_CADDYFILE,optional"`
	ServerHost       string `envconfig:"RCM_SERVER_HOST,optional"`
	ServerUser       string `envconfig:"RCM_SERVER_USER,optional"`
	ClientHost       string `envconfig:"RCM_CLIENT_HOST,optional"`
	ClientUser       string `envconfig:"RCM_CLIENT_USER,optional"`
	Token            string `envconfig:"RCM_RATHOLE_TOKEN,optional"`
	ServerPrivateKey string `envconfig:"RCM_RATHOLE_SERVER_PRIVATE_KEY,optional"`
	ServerPublicKey  string `envconfig:"RCM_RATHOLE_SERVER_PUBLIC_KEY,optional"`
	Timeout          string `envconfig:"RCM_DEPLOY_TIMEOUT,optional"`
	Parallel         string `envconfig:"RCM_DEPLOY_PARALLEL,optional"`
}

func (c *Config) applyEnv() error {
	var env overrides
	if err := envconfig.Init(&env); err != nil {
		return fmt.Errorf("config env overrides: %w", err)
	}

	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Paths.Caddyfile, env.Caddyfile)
	set(&c.Server.Host, env.ServerHost)
	set(&c.Server.User, env.ServerUser)
	set(&c.Client.Host, env.ClientHost)
	set(&c.Client.User, env.ClientUser)
	set(&c.Rathole.Token, env.Token)
	set(&c.Rathole.ServerPrivateKey, env.ServerPrivateKey)
	set(&c.Rathole.ServerPublicKey, env.ServerPublicKey)

	if v := strings.TrimSpace(env.Timeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: RCM_DEPLOY_TIMEOUT: %v", ErrInvalid, err)
		}
		c.Deploy.Timeout = d
	}
	if v := strings.TrimSpace(env.Parallel); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: RCM_DEPLOY_PARALLEL: %v", ErrInvalid, err)
		}
		c.Deploy.Parallel = b
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Paths.Caddyfile) == "" {
		fail("paths.caddyfile is required")
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		fail("server.host is required")
	}
	if strings.TrimSpace(c.Server.User) == "" && !c.Server.Local {
		fail("server.user is required")
	}
	if strings.TrimSpace(c.Client.Host) == "" && !c.Client.Local {
		fail("client.host is required")
	}
	if strings.TrimSpace(c.Client.User) == "" && !c.Client.Local {
		fail("client.user is required")
	}
	for _, field := range []struct{ name, port string }{
		{"server.port", c.Server.Port},
		{"client.port", c.Client.Port},
	} {
		if field.port == "" {
			continue
		}
		if p, err := strconv.Atoi(field.port); err != nil || p < 1 || p > 65535 {
			fail("%s %q is not a valid port", field.name, field.port)
		}
	}
	if c.Rathole.BindPort < 1 || c.Rathole.BindPort > 65535 {
		fail("rathole.bind_port %d out of range", c.Rathole.BindPort)
	}
	if strings.TrimSpace(c.Rathole.Token) == "" {
		fail("rathole.token is required")
	}
	if (c.Rathole.ServerPrivateKey == "") != (c.Rathole.ServerPublicKey == "") {
		fail("rathole.server_private_key and rathole.server_public_key must be set together")
	}
	if c.Deploy.Timeout < 0 {
		fail("deploy.timeout must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Deploy.Conflicts)) {
	case "", "first", "last", "reject":
	default:
		fail("deploy.conflicts %q must be first, last or reject", c.Deploy.Conflicts)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// KeyPath resolves an ssh_key setting: absolute or "~" paths are used as is,
// bare names are joined to paths.ssh_dir.
func (c Config) KeyPath(key string) (string, error) {
	if key == "" {
		return "", nil
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "~") {
		return ExpandHome(key)
	}
	dir, err := ExpandHome(c.Paths.SSHDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, key), nil
}

// CaddyfilePath is the expanded local proxy configuration path.
func (c Config) CaddyfilePath() (string, error) {
	return ExpandHome(c.Paths.Caddyfile)
}

// ExpandHome expands a leading "~" against the local user's home.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: expand %s: %w", path, err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
