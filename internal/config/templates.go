package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template returns a starter config in the given format ("toml" or "yaml").
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// TemplateKind infers the template format from a file extension.
func TemplateKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	expanded, err := ExpandHome(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(expanded); err == nil {
			return fmt.Errorf("config already exists: %s", expanded)
		}
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o700); err != nil {
		return err
	}
	return os.WriteFile(expanded, []byte(template), 0o600)
}

const tomlTemplate = `# rcm configuration

[paths]
caddyfile = "~/rathole-caddy/Caddyfile"
ssh_dir = "~/.ssh"

# Public VPS running rathole-server and caddy.
[server]
host = "203.0.113.10"
user = "root"
ssh_key = "id_ed25519"
# known_hosts = "~/.ssh/known_hosts"
rathole_config = "/etc/rathole/server.toml"
caddyfile = "~/rathole-caddy/caddy/Caddyfile"
caddy_compose_dir = "~/rathole-caddy/caddy"
tunnel_unit = "rathole-server"
proxy_service = "caddy"

# Home machine running rathole-client.
[client]
host = "192.168.1.2"
user = "ops"
ssh_key = "id_ed25519"
rathole_config = "/etc/rathole/client.toml"
tunnel_unit = "rathole-client"
# Set when rcm runs on the client itself; commands then run locally.
# local = true

[rathole]
bind_port = 2333
token = "change-me"
# Noise transport is used when both keys are set (rathole --genkey).
server_private_key = ""
server_public_key = ""

[deploy]
timeout = "2m"
dial_attempts = 3
parallel = false
# first, last or reject
conflicts = "first"
# metrics_textfile = "/var/lib/node_exporter/textfile/rcm.prom"
`

const yamlTemplate = `# rcm configuration
paths:
  caddyfile: ~/rathole-caddy/Caddyfile
  ssh_dir: ~/.ssh

server:
  host: 203.0.113.10
  user: root
  ssh_key: id_ed25519
  rathole_config: /etc/rathole/server.toml
  caddyfile: ~/rathole-caddy/caddy/Caddyfile
  caddy_compose_dir: ~/rathole-caddy/caddy

client:
  host: 192.168.1.2
  user: ops
  ssh_key: id_ed25519
  rathole_config: /etc/rathole/client.toml

rathole:
  bind_port: 2333
  token: change-me
  server_private_key: ""
  server_public_key: ""
`
