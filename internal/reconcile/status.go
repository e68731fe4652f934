package reconcile

import (
	"context"

	"github.com/danmuck/rcm/internal/deploy"
)

// UnitStatus is the observed state of one unit, or the error that prevented
// observing it.
type UnitStatus struct {
	Endpoint string
	Host     string
	Kind     deploy.UnitKind
	State    deploy.UnitState
	Err      error
}

// Status queries every configured unit: the tunnel server and the proxy on
// the server, the tunnel client on the client. Unreachable endpoints are
// reported per unit rather than failing the call.
func (w *Workflow) Status(ctx context.Context) []UnitStatus {
	targets := w.targets()
	var out []UnitStatus
	for _, ep := range []struct {
		name  string
		host  string
		units []string
	}{
		{ServerEndpoint, w.cfg.Server.Host, []string{w.cfg.Server.TunnelUnit, w.cfg.Server.ProxyService}},
		{ClientEndpoint, w.cfg.Client.Host, []string{w.cfg.Client.TunnelUnit}},
	} {
		units := make([]deploy.Unit, 0, len(ep.units))
		for _, name := range ep.units {
			units = append(units, targets[ep.name].Units[name])
		}
		out = append(out, w.endpointStatus(ctx, ep.name, ep.host, units)...)
	}
	return out
}

func (w *Workflow) endpointStatus(ctx context.Context, endpoint, host string, units []deploy.Unit) []UnitStatus {
	out := make([]UnitStatus, 0, len(units))
	t, err := w.connect(ctx, endpoint)
	if err != nil {
		w.log.Warn().Err(err).Str("endpoint", endpoint).Msg("status: connect failed")
		for _, u := range units {
			out = append(out, UnitStatus{Endpoint: endpoint, Host: host, Kind: u.Kind, State: deploy.UnitState{Unit: u.Name, State: "unreachable"}, Err: err})
		}
		return out
	}
	defer t.Close()

	for _, u := range units {
		state, err := deploy.Status(ctx, t, u)
		out = append(out, UnitStatus{Endpoint: endpoint, Host: host, Kind: u.Kind, State: state, Err: err})
	}
	return out
}
