package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/rcm/internal/caddyfile"
	"github.com/danmuck/rcm/internal/config"
	"github.com/danmuck/rcm/internal/deploy"
	"github.com/danmuck/rcm/internal/logging"
	"github.com/danmuck/rcm/internal/observability"
	"github.com/danmuck/rcm/internal/plan"
	"github.com/danmuck/rcm/internal/rathole"
	"github.com/danmuck/rcm/internal/remote"
	"github.com/danmuck/rcm/internal/services"
	"github.com/rs/zerolog"
)

var (
	ErrNoServices   = errors.New("reconcile: no usable services in local proxy configuration")
	ErrNotConfirmed = errors.New("reconcile: plan removes services and was not confirmed")
)

// Options are the per-run switches of a sync.
type Options struct {
	DryRun      bool
	AutoConfirm bool
	Force       bool
}

// Document is one parsed proxy file.
type Document struct {
	Path     string
	Present  bool
	Text     []byte
	Set      services.Set
	Warnings []caddyfile.Warning
}

// Preparation is everything a sync decided before touching any endpoint.
type Preparation struct {
	Local     Document
	Remote    Document
	Delta     services.Delta
	Plan      plan.Plan
	Documents rathole.Documents
}

type Workflow struct {
	cfg       config.Config
	connect   deploy.ConnectFunc
	endpoints plan.Endpoints
	conflicts services.ConflictPolicy
	log       zerolog.Logger
}

func New(cfg config.Config, connect deploy.ConnectFunc) (*Workflow, error) {
	conflicts, err := services.ParseConflictPolicy(cfg.Deploy.Conflicts)
	if err != nil {
		return nil, err
	}
	return &Workflow{
		cfg:       cfg,
		connect:   connect,
		endpoints: endpointsFor(cfg),
		conflicts: conflicts,
		log:       logging.Component("reconcile"),
	}, nil
}

func endpointsFor(cfg config.Config) plan.Endpoints {
	return plan.Endpoints{
		Server: plan.Server{Name: ServerEndpoint, TunnelUnit: cfg.Server.TunnelUnit, ProxyUnit: cfg.Server.ProxyService},
		Client: plan.Client{Name: ClientEndpoint, TunnelUnit: cfg.Client.TunnelUnit},
	}
}

func (w *Workflow) targets() map[string]deploy.Target {
	return map[string]deploy.Target{
		ServerEndpoint: {
			Artifacts: map[plan.Artifact]string{
				plan.ArtifactProxyConfig:        w.cfg.Server.Caddyfile,
				plan.ArtifactServerTunnelConfig: w.cfg.Server.RatholeConfig,
			},
			Units: map[string]deploy.Unit{
				w.cfg.Server.TunnelUnit:   {Name: w.cfg.Server.TunnelUnit, Kind: deploy.UnitSystemd, Sudo: w.cfg.Server.Sudo},
				w.cfg.Server.ProxyService: {Name: w.cfg.Server.ProxyService, Kind: deploy.UnitCompose, Dir: w.cfg.Server.CaddyComposeDir},
			},
		},
		ClientEndpoint: {
			Artifacts: map[plan.Artifact]string{
				plan.ArtifactClientTunnelConfig: w.cfg.Client.RatholeConfig,
			},
			Units: map[string]deploy.Unit{
				w.cfg.Client.TunnelUnit: {Name: w.cfg.Client.TunnelUnit, Kind: deploy.UnitSystemd, Sudo: w.cfg.Client.Sudo},
			},
		},
	}
}

func (w *Workflow) dispatcher(hooks deploy.Hooks) *deploy.Dispatcher {
	d := deploy.NewDispatcher(w.connect, w.targets(), hooks)
	d.Timeout = w.cfg.Deploy.Timeout
	d.Parallel = w.cfg.Deploy.Parallel
	return d
}

func (w *Workflow) parse(text []byte) (services.Set, []caddyfile.Warning) {
	return services.Parse(string(text), services.Options{Conflicts: w.conflicts})
}

// LoadLocal reads and parses the local proxy file. A missing file yields a
// Document with Present false and the Absent set.
func (w *Workflow) LoadLocal() (Document, error) {
	path, err := w.cfg.CaddyfilePath()
	if err != nil {
		return Document{}, err
	}
	text, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{Path: path, Set: services.Absent()}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("reconcile: read %s: %w", path, err)
	}
	set, warnings := w.parse(text)
	observability.RecordServices("local", set.Len())
	return Document{Path: path, Present: true, Text: text, Set: set, Warnings: warnings}, nil
}

// LoadRemote downloads and parses the server's proxy file. A missing remote
// file is an empty set: nothing is deployed there yet.
func (w *Workflow) LoadRemote(ctx context.Context) (Document, error) {
	doc := Document{Path: w.cfg.Server.Caddyfile}
	t, err := w.connect(ctx, ServerEndpoint)
	if err != nil {
		return Document{}, fmt.Errorf("reconcile: connect %s: %w", ServerEndpoint, err)
	}
	defer t.Close()

	text, err := t.Download(ctx, w.cfg.Server.Caddyfile)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		w.log.Info().Str("path", doc.Path).Msg("no proxy configuration on server yet")
		doc.Set = services.Set{}
		return doc, nil
	case err != nil:
		return Document{}, err
	}
	doc.Present = true
	doc.Text = text
	doc.Set, doc.Warnings = w.parse(text)
	observability.RecordServices("remote", doc.Set.Len())
	return doc, nil
}

// Prepare fetches both sides, diffs remote against local and builds the plan.
// Nothing on any endpoint changes.
func (w *Workflow) Prepare(ctx context.Context, opts Options) (Preparation, error) {
	local, err := w.LoadLocal()
	if err != nil {
		return Preparation{}, err
	}
	prep := Preparation{Local: local}
	policy := plan.Policy{
		DryRun:      opts.DryRun,
		AutoConfirm: opts.AutoConfirm,
		Force:       opts.Force,
		Endpoints:   w.endpoints,
	}

	if !local.Present {
		w.log.Info().Str("path", local.Path).Msg("no local proxy configuration, planning bootstrap pull")
		prep.Remote = Document{Path: w.cfg.Server.Caddyfile, Set: services.Set{}}
		prep.Delta = services.Diff(prep.Remote.Set, local.Set)
		prep.Plan, err = plan.Build(prep.Delta, policy)
		return prep, err
	}
	if local.Set.Len() == 0 {
		return prep, ErrNoServices
	}

	prep.Remote, err = w.LoadRemote(ctx)
	if err != nil {
		return prep, err
	}
	prep.Delta = services.Diff(prep.Remote.Set, local.Set)
	if prep.Plan, err = plan.Build(prep.Delta, policy); err != nil {
		return prep, err
	}

	prep.Documents, err = rathole.Emit(local.Set, rathole.Options{
		ServerHost:       w.cfg.Server.Host,
		BindPort:         w.cfg.Rathole.BindPort,
		Token:            w.cfg.Rathole.Token,
		ServerPrivateKey: w.cfg.Rathole.ServerPrivateKey,
		ServerPublicKey:  w.cfg.Rathole.ServerPublicKey,
		ServiceBindHost:  w.cfg.Rathole.ServiceBindHost,
	})
	if err != nil {
		return prep, err
	}
	w.log.Debug().
		Int("added", len(prep.Delta.Added)).
		Int("removed", len(prep.Delta.Removed)).
		Int("changed", len(prep.Delta.Changed)).
		Int("actions", len(prep.Plan.Actions)).
		Msg("plan ready")
	return prep, nil
}

// Apply dispatches a prepared plan. Plans that remove services must be
// confirmed by the caller.
func (w *Workflow) Apply(ctx context.Context, prep Preparation, confirmed bool) (deploy.Report, error) {
	if prep.Plan.RequiresConfirmation && !confirmed {
		return deploy.Report{}, ErrNotConfirmed
	}
	hooks := deploy.Hooks{
		Content: func(a plan.Artifact) ([]byte, error) {
			switch a {
			case plan.ArtifactProxyConfig:
				return prep.Local.Text, nil
			case plan.ArtifactServerTunnelConfig:
				return prep.Documents.Server, nil
			case plan.ArtifactClientTunnelConfig:
				return prep.Documents.Client, nil
			}
			return nil, fmt.Errorf("reconcile: no content for %s", a)
		},
		Store: w.storeLocal,
	}
	report, err := w.dispatcher(hooks).Dispatch(ctx, prep.Plan)
	w.exportMetrics()
	return report, err
}

// Pull downloads the server's proxy file over the local one.
func (w *Workflow) Pull(ctx context.Context) (deploy.Report, error) {
	p, err := plan.Pull(w.endpoints)
	if err != nil {
		return deploy.Report{}, err
	}
	report, err := w.dispatcher(deploy.Hooks{Store: w.storeLocal}).Dispatch(ctx, p)
	w.exportMetrics()
	return report, err
}

// Restart restarts the selected endpoints' units without uploading anything.
func (w *Workflow) Restart(ctx context.Context, server, client bool) (deploy.Report, error) {
	p, err := plan.Restart(w.endpoints, server, client)
	if err != nil {
		return deploy.Report{}, err
	}
	report, err := w.dispatcher(deploy.Hooks{}).Dispatch(ctx, p)
	w.exportMetrics()
	return report, err
}

func (w *Workflow) storeLocal(a plan.Artifact, content []byte) error {
	if a != plan.ArtifactProxyConfig {
		return fmt.Errorf("reconcile: cannot store %s locally", a)
	}
	path, err := w.cfg.CaddyfilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func (w *Workflow) exportMetrics() {
	path := w.cfg.Deploy.MetricsTextfile
	if path == "" {
		return
	}
	expanded, err := config.ExpandHome(path)
	if err == nil {
		err = observability.WriteTextfile(expanded)
	}
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("metrics textfile export failed")
	}
}
