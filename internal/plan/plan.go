package plan

import (
	"fmt"
	"strings"

	"github.com/danmuck/rcm/internal/services"
)

type ActionKind string

const (
	ActionEmitConfig ActionKind = "emit-config"
	ActionUpload     ActionKind = "upload"
	ActionRestart    ActionKind = "restart"
	ActionPull       ActionKind = "pull"
)

// Artifact names a file moved between this host and an endpoint.
type Artifact string

const (
	ArtifactProxyConfig        Artifact = "proxy-config"
	ArtifactServerTunnelConfig Artifact = "server-tunnel-config"
	ArtifactClientTunnelConfig Artifact = "client-tunnel-config"
)

// NoteInSync is attached to plans with nothing to deploy.
const NoteInSync = "remote already matches local"

// Action is one step against one endpoint. Artifact is set for upload, pull
// and emit-config; Unit only for restart.
type Action struct {
	Kind     ActionKind
	Endpoint string
	Artifact Artifact
	Unit     string
}

func (a Action) String() string {
	switch a.Kind {
	case ActionRestart:
		return fmt.Sprintf("%s(%s, %s)", a.Kind, a.Endpoint, a.Unit)
	case ActionEmitConfig:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Endpoint)
	default:
		return fmt.Sprintf("%s(%s, %s)", a.Kind, a.Endpoint, a.Artifact)
	}
}

// Server names the public host running the tunnel server and the proxy.
type Server struct {
	Name       string
	TunnelUnit string
	ProxyUnit  string
}

// Client names the private host running the tunnel client.
type Client struct {
	Name       string
	TunnelUnit string
}

type Endpoints struct {
	Server Server
	Client Client
}

// DefaultEndpoints matches the stock rathole systemd units and the caddy
// compose service.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Server: Server{Name: "server", TunnelUnit: "rathole-server", ProxyUnit: "caddy"},
		Client: Client{Name: "client", TunnelUnit: "rathole-client"},
	}
}

func (e Endpoints) validate() error {
	switch {
	case strings.TrimSpace(e.Server.Name) == "":
		return invalid("server.name", "required")
	case strings.TrimSpace(e.Client.Name) == "":
		return invalid("client.name", "required")
	case e.Server.Name == e.Client.Name:
		return invalid("client.name", fmt.Sprintf("duplicates server name %q", e.Server.Name))
	case strings.TrimSpace(e.Server.TunnelUnit) == "":
		return invalid("server.tunnel_unit", "required")
	case strings.TrimSpace(e.Server.ProxyUnit) == "":
		return invalid("server.proxy_unit", "required")
	case strings.TrimSpace(e.Client.TunnelUnit) == "":
		return invalid("client.tunnel_unit", "required")
	}
	return nil
}

// Policy is the caller's intent for one planning run.
type Policy struct {
	DryRun      bool
	AutoConfirm bool
	Force       bool
	Endpoints   Endpoints
}

type Plan struct {
	Actions              []Action
	Warnings             []string
	Notes                []string
	RequiresConfirmation bool
	Execute              bool
	Bootstrap            bool
}

// Empty reports whether the plan has no actions.
func (p Plan) Empty() bool {
	return len(p.Actions) == 0
}

// ForEndpoint returns the actions addressed to one endpoint, in plan order.
func (p Plan) ForEndpoint(name string) []Action {
	var out []Action
	for _, a := range p.Actions {
		if a.Endpoint == name {
			out = append(out, a)
		}
	}
	return out
}

// Build derives the deployment plan for moving the remote state (delta base)
// to the local state (delta target).
func Build(delta services.Delta, policy Policy) (Plan, error) {
	if err := policy.Endpoints.validate(); err != nil {
		return Plan{}, err
	}
	ep := policy.Endpoints

	p := Plan{Execute: !policy.DryRun}
	if delta.Absent() {
		p.Bootstrap = true
		p.Actions = []Action{pull(ep.Server.Name, ArtifactProxyConfig)}
		p.Notes = append(p.Notes, "no local proxy configuration; pulling it from the server")
		return p, nil
	}

	for _, svc := range delta.Removed {
		p.Warnings = append(p.Warnings, fmt.Sprintf(
			"service %s will be removed: remote port %d closes and %s stops resolving",
			svc.Name, svc.RemotePort, strings.Join(svc.Domains, ", ")))
	}
	p.RequiresConfirmation = len(delta.Removed) > 0 && !policy.AutoConfirm

	if delta.Empty() && !policy.Force {
		p.Notes = append(p.Notes, NoteInSync)
		return p, nil
	}

	p.Actions = fullDeploy(ep)
	return p, nil
}

func fullDeploy(ep Endpoints) []Action {
	return []Action{
		{Kind: ActionEmitConfig, Endpoint: ep.Server.Name, Artifact: ArtifactServerTunnelConfig},
		{Kind: ActionEmitConfig, Endpoint: ep.Client.Name, Artifact: ArtifactClientTunnelConfig},
		upload(ep.Server.Name, ArtifactProxyConfig),
		upload(ep.Server.Name, ArtifactServerTunnelConfig),
		restart(ep.Server.Name, ep.Server.TunnelUnit),
		restart(ep.Server.Name, ep.Server.ProxyUnit),
		upload(ep.Client.Name, ArtifactClientTunnelConfig),
		restart(ep.Client.Name, ep.Client.TunnelUnit),
	}
}

// Restart plans unit restarts without uploads, server before client.
func Restart(endpoints Endpoints, server, client bool) (Plan, error) {
	if err := endpoints.validate(); err != nil {
		return Plan{}, err
	}
	p := Plan{Execute: true}
	if server {
		p.Actions = append(p.Actions,
			restart(endpoints.Server.Name, endpoints.Server.TunnelUnit),
			restart(endpoints.Server.Name, endpoints.Server.ProxyUnit))
	}
	if client {
		p.Actions = append(p.Actions, restart(endpoints.Client.Name, endpoints.Client.TunnelUnit))
	}
	return p, nil
}

// Pull plans a single download of the server's proxy configuration.
func Pull(endpoints Endpoints) (Plan, error) {
	if err := endpoints.validate(); err != nil {
		return Plan{}, err
	}
	return Plan{
		Actions: []Action{pull(endpoints.Server.Name, ArtifactProxyConfig)},
		Execute: true,
	}, nil
}

func upload(endpoint string, artifact Artifact) Action {
	return Action{Kind: ActionUpload, Endpoint: endpoint, Artifact: artifact}
}

func pull(endpoint string, artifact Artifact) Action {
	return Action{Kind: ActionPull, Endpoint: endpoint, Artifact: artifact}
}

func restart(endpoint, unit string) Action {
	return Action{Kind: ActionRestart, Endpoint: endpoint, Unit: unit}
}
