package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/rcm/internal/logging"
	"github.com/danmuck/rcm/internal/observability"
	"github.com/danmuck/rcm/internal/plan"
	"github.com/danmuck/rcm/internal/remote"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownEndpoint = errors.New("deploy: unknown endpoint")
	ErrUnknownArtifact = errors.New("deploy: artifact not mapped for endpoint")
	ErrUnknownUnit     = errors.New("deploy: unit not mapped for endpoint")
	ErrNoContent       = errors.New("deploy: no content hook configured")
)

// ConnectFunc opens a transport to the named endpoint.
type ConnectFunc func(ctx context.Context, endpoint string) (remote.Transport, error)

// Target maps plan artifacts and unit names onto one endpoint's paths and
// process managers.
type Target struct {
	Artifacts map[plan.Artifact]string
	Units     map[string]Unit
}

// Hooks connect the dispatcher to local state. Content renders an artifact
// for emit-config and upload; Store receives pulled artifacts.
type Hooks struct {
	Content func(artifact plan.Artifact) ([]byte, error)
	Store   func(artifact plan.Artifact, content []byte) error
}

type Dispatcher struct {
	Connect  ConnectFunc
	Targets  map[string]Target
	Hooks    Hooks
	Timeout  time.Duration
	Parallel bool
}

func NewDispatcher(connect ConnectFunc, targets map[string]Target, hooks Hooks) *Dispatcher {
	return &Dispatcher{
		Connect: connect,
		Targets: targets,
		Hooks:   hooks,
	}
}

// Dispatch runs every endpoint's slice of p. Endpoints are independent: one
// failing never stops another. The returned error aggregates a DispatchError
// per endpoint that did not succeed.
func (d *Dispatcher) Dispatch(ctx context.Context, p plan.Plan) (Report, error) {
	names := endpointOrder(p.Actions)
	reports := make([]EndpointReport, len(names))

	if !p.Execute {
		for i, name := range names {
			reports[i] = skipped(name, p.ForEndpoint(name))
		}
		return Report{Endpoints: reports}, nil
	}

	if d.Parallel {
		var g errgroup.Group
		for i, name := range names {
			g.Go(func() error {
				reports[i] = d.runEndpoint(ctx, name, p.ForEndpoint(name))
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, name := range names {
			reports[i] = d.runEndpoint(ctx, name, p.ForEndpoint(name))
		}
	}

	var result *multierror.Error
	for _, r := range reports {
		if r.Outcome == OutcomeSuccess {
			continue
		}
		result = multierror.Append(result, &DispatchError{
			Endpoint:      r.Endpoint,
			Action:        r.Failed,
			LastCompleted: r.LastCompleted,
			Unknown:       r.Outcome == OutcomeUnknown,
			Err:           r.Err,
		})
	}
	return Report{Endpoints: reports}, result.ErrorOrNil()
}

func (d *Dispatcher) runEndpoint(parent context.Context, name string, actions []plan.Action) EndpointReport {
	start := time.Now()
	report := EndpointReport{Endpoint: name, Actions: actions, LastCompleted: -1}
	log := logging.Component("deploy").With().Str("endpoint", name).Logger()

	if err := parent.Err(); err != nil {
		report = skipped(name, actions)
		report.Err = err
		return report
	}

	ctx := parent
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.Timeout)
		defer cancel()
	}

	run := &endpointRun{d: d, name: name, content: make(map[plan.Artifact][]byte)}
	defer run.close()

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			report.fail(action, err, OutcomeFailed)
			break
		}
		actionStart := time.Now()
		err := run.execute(ctx, action)
		elapsed := time.Since(actionStart)
		if err != nil {
			outcome := OutcomeFailed
			if ctx.Err() != nil && run.remoteStarted(action) {
				outcome = OutcomeUnknown
			}
			observability.RecordAction(name, string(action.Kind), resultLabel(outcome), elapsed)
			log.Error().Err(err).Str("action", action.String()).Str("outcome", string(outcome)).Msg("action failed")
			report.fail(action, err, outcome)
			break
		}
		observability.RecordAction(name, string(action.Kind), "ok", elapsed)
		log.Info().Str("action", action.String()).Dur("took", elapsed).Msg("action complete")
		report.Completed = append(report.Completed, action)
		report.LastCompleted = i
	}

	if report.Outcome == "" {
		report.Outcome = OutcomeSuccess
	}
	report.Duration = time.Since(start)
	observability.RecordEndpoint(name, string(report.Outcome), time.Now())
	return report
}

func (r *EndpointReport) fail(action plan.Action, err error, outcome Outcome) {
	failed := action
	r.Failed = &failed
	r.Err = err
	r.Outcome = outcome
}

// endpointRun holds per-endpoint state: the lazily opened transport and the
// artifacts rendered by emit-config.
type endpointRun struct {
	d         *Dispatcher
	name      string
	transport remote.Transport
	content   map[plan.Artifact][]byte
}

func (r *endpointRun) remoteStarted(a plan.Action) bool {
	return a.Kind != plan.ActionEmitConfig && r.transport != nil
}

func (r *endpointRun) execute(ctx context.Context, a plan.Action) error {
	switch a.Kind {
	case plan.ActionEmitConfig:
		_, err := r.render(a.Artifact)
		return err
	case plan.ActionUpload:
		content, err := r.render(a.Artifact)
		if err != nil {
			return err
		}
		path, err := r.path(a.Artifact)
		if err != nil {
			return err
		}
		t, err := r.connect(ctx)
		if err != nil {
			return err
		}
		return t.Upload(ctx, path, content)
	case plan.ActionRestart:
		unit, err := r.unit(a.Unit)
		if err != nil {
			return err
		}
		t, err := r.connect(ctx)
		if err != nil {
			return err
		}
		return Restart(ctx, t, unit)
	case plan.ActionPull:
		path, err := r.path(a.Artifact)
		if err != nil {
			return err
		}
		t, err := r.connect(ctx)
		if err != nil {
			return err
		}
		content, err := t.Download(ctx, path)
		if err != nil {
			return err
		}
		if r.d.Hooks.Store == nil {
			return fmt.Errorf("%w: store", ErrNoContent)
		}
		return r.d.Hooks.Store(a.Artifact, content)
	default:
		return fmt.Errorf("deploy: unsupported action kind %q", a.Kind)
	}
}

func (r *endpointRun) render(artifact plan.Artifact) ([]byte, error) {
	if content, ok := r.content[artifact]; ok {
		return content, nil
	}
	if r.d.Hooks.Content == nil {
		return nil, fmt.Errorf("%w: content", ErrNoContent)
	}
	content, err := r.d.Hooks.Content(artifact)
	if err != nil {
		return nil, fmt.Errorf("deploy: render %s: %w", artifact, err)
	}
	r.content[artifact] = content
	return content, nil
}

func (r *endpointRun) target() (Target, error) {
	t, ok := r.d.Targets[r.name]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, r.name)
	}
	return t, nil
}

func (r *endpointRun) path(artifact plan.Artifact) (string, error) {
	t, err := r.target()
	if err != nil {
		return "", err
	}
	path, ok := t.Artifacts[artifact]
	if !ok || path == "" {
		return "", fmt.Errorf("%w: %s on %s", ErrUnknownArtifact, artifact, r.name)
	}
	return path, nil
}

func (r *endpointRun) unit(name string) (Unit, error) {
	t, err := r.target()
	if err != nil {
		return Unit{}, err
	}
	u, ok := t.Units[name]
	if !ok {
		return Unit{}, fmt.Errorf("%w: %s on %s", ErrUnknownUnit, name, r.name)
	}
	return u, nil
}

func (r *endpointRun) connect(ctx context.Context) (remote.Transport, error) {
	if r.transport != nil {
		return r.transport, nil
	}
	t, err := r.d.Connect(ctx, r.name)
	if err != nil {
		return nil, err
	}
	r.transport = t
	return t, nil
}

func (r *endpointRun) close() {
	if r.transport != nil {
		_ = r.transport.Close()
	}
}

func skipped(name string, actions []plan.Action) EndpointReport {
	return EndpointReport{Endpoint: name, Outcome: OutcomeSkipped, Actions: actions, LastCompleted: -1}
}

func resultLabel(o Outcome) string {
	if o == OutcomeUnknown {
		return "unknown"
	}
	return "error"
}

func endpointOrder(actions []plan.Action) []string {
	var names []string
	seen := make(map[string]bool)
	for _, a := range actions {
		if !seen[a.Endpoint] {
			seen[a.Endpoint] = true
			names = append(names, a.Endpoint)
		}
	}
	return names
}
