// Package rathole renders tunnel server and client configuration documents
// from a service set.
package rathole

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/rcm/internal/services"
	"github.com/pelletier/go-toml/v2"
)

var (
	ErrMissingServerHost = errors.New("rathole: server host is required")
	ErrMissingToken      = errors.New("rathole: token is required")
	ErrInvalidBindPort   = errors.New("rathole: invalid bind port")
)

const (
	DefaultBindPort        = 2333
	DefaultServiceBindHost = "0.0.0.0"

	transportTCP   = "tcp"
	transportNoise = "noise"

	header = "# Generated by rcm from the proxy configuration. Manual edits are overwritten on sync.\n\n"
)

// Options carries tunnel-wide settings that do not come from the proxy file.
type Options struct {
	ServerHost       string
	BindPort         int
	Token            string
	ServerPrivateKey string
	ServerPublicKey  string
	ServiceBindHost  string
}

func (o Options) withDefaults() Options {
	if o.BindPort == 0 {
		o.BindPort = DefaultBindPort
	}
	if strings.TrimSpace(o.ServiceBindHost) == "" {
		o.ServiceBindHost = DefaultServiceBindHost
	}
	return o
}

func (o Options) validate() error {
	if strings.TrimSpace(o.ServerHost) == "" {
		return ErrMissingServerHost
	}
	if strings.TrimSpace(o.Token) == "" {
		return ErrMissingToken
	}
	if !services.ValidPort(o.BindPort) {
		return fmt.Errorf("%w: %d", ErrInvalidBindPort, o.BindPort)
	}
	return nil
}

// noise is enabled only when both halves of the server key pair are known.
func (o Options) noise() bool {
	return o.ServerPrivateKey != "" && o.ServerPublicKey != ""
}

// Documents holds one rendered file per endpoint.
type Documents struct {
	Server []byte
	Client []byte
}

type serverFile struct {
	Server serverSection `toml:"server"`
}

type serverSection struct {
	BindAddr     string                   `toml:"bind_addr"`
	DefaultToken string                   `toml:"default_token"`
	Transport    transport                `toml:"transport"`
	Services     map[string]serverService `toml:"services"`
}

type serverService struct {
	BindAddr string `toml:"bind_addr"`
}

type clientFile struct {
	Client clientSection `toml:"client"`
}

type clientSection struct {
	RemoteAddr   string                   `toml:"remote_addr"`
	DefaultToken string                   `toml:"default_token"`
	Transport    transport                `toml:"transport"`
	Services     map[string]clientService `toml:"services"`
}

type clientService struct {
	LocalAddr string `toml:"local_addr"`
}

type transport struct {
	Type  string     `toml:"type"`
	Noise *noiseConf `toml:"noise,omitempty"`
}

type noiseConf struct {
	LocalPrivateKey string `toml:"local_private_key,omitempty"`
	RemotePublicKey string `toml:"remote_public_key,omitempty"`
}

// Emit renders both documents. The set is trusted to be well formed; only
// the tunnel options are checked.
func Emit(set services.Set, opts Options) (Documents, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return Documents{}, err
	}

	server := serverFile{Server: serverSection{
		BindAddr:     net.JoinHostPort("0.0.0.0", strconv.Itoa(opts.BindPort)),
		DefaultToken: opts.Token,
		Transport:    transport{Type: transportTCP},
		Services:     make(map[string]serverService, set.Len()),
	}}
	client := clientFile{Client: clientSection{
		RemoteAddr:   net.JoinHostPort(opts.ServerHost, strconv.Itoa(opts.BindPort)),
		DefaultToken: opts.Token,
		Transport:    transport{Type: transportTCP},
		Services:     make(map[string]clientService, set.Len()),
	}}
	if opts.noise() {
		server.Server.Transport = transport{Type: transportNoise, Noise: &noiseConf{LocalPrivateKey: opts.ServerPrivateKey}}
		client.Client.Transport = transport{Type: transportNoise, Noise: &noiseConf{RemotePublicKey: opts.ServerPublicKey}}
	}

	for _, svc := range set.Services() {
		server.Server.Services[svc.Name] = serverService{
			BindAddr: net.JoinHostPort(opts.ServiceBindHost, strconv.Itoa(svc.RemotePort)),
		}
		client.Client.Services[svc.Name] = clientService{LocalAddr: svc.LocalAddress}
	}

	serverDoc, err := render(server)
	if err != nil {
		return Documents{}, fmt.Errorf("rathole: render server config: %w", err)
	}
	clientDoc, err := render(client)
	if err != nil {
		return Documents{}, fmt.Errorf("rathole: render client config: %w", err)
	}
	return Documents{Server: serverDoc, Client: clientDoc}, nil
}

func render(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
