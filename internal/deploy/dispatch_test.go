package deploy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/rcm/internal/plan"
	"github.com/danmuck/rcm/internal/remote"
	"github.com/danmuck/rcm/internal/services"
	"github.com/danmuck/rcm/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

type fakeTransport struct {
	mu       sync.Mutex
	log      []string
	files    map[string][]byte
	outputs  map[string]string
	failOn   string
	blockOn  string
	closed   bool
	expanded int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{files: make(map[string][]byte), outputs: make(map[string]string)}
}

func (f *fakeTransport) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, entry)
}

func (f *fakeTransport) entries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeTransport) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	line := strings.Join(append([]string{cmd}, args...), " ")
	f.record(line)
	if f.blockOn != "" && strings.Contains(line, f.blockOn) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	out := f.outputs[line]
	if f.failOn != "" && strings.Contains(line, f.failOn) {
		return out, &remote.CommandError{Command: line, ExitStatus: 3, Stderr: "boom"}
	}
	return out, nil
}

func (f *fakeTransport) Upload(_ context.Context, path string, content []byte) error {
	f.record("upload " + path)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), content...)
	return nil
}

func (f *fakeTransport) Download(_ context.Context, path string) ([]byte, error) {
	f.record("download " + path)
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return content, nil
}

func (f *fakeTransport) ExpandPath(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	f.expanded++
	f.mu.Unlock()
	if strings.HasPrefix(path, "~/") {
		return "/home/ops/" + path[2:], nil
	}
	return path, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fixture struct {
	transports map[string]*fakeTransport
	connects   map[string]int
	connectErr map[string]error
	stored     map[plan.Artifact][]byte
	mu         sync.Mutex
}

func newFixture() *fixture {
	return &fixture{
		transports: map[string]*fakeTransport{"server": newFakeTransport(), "client": newFakeTransport()},
		connects:   make(map[string]int),
		connectErr: make(map[string]error),
		stored:     make(map[plan.Artifact][]byte),
	}
}

func (fx *fixture) dispatcher() *Dispatcher {
	connect := func(_ context.Context, endpoint string) (remote.Transport, error) {
		fx.mu.Lock()
		defer fx.mu.Unlock()
		fx.connects[endpoint]++
		if err := fx.connectErr[endpoint]; err != nil {
			return nil, err
		}
		return fx.transports[endpoint], nil
	}
	targets := map[string]Target{
		"server": {
			Artifacts: map[plan.Artifact]string{
				plan.ArtifactProxyConfig:        "~/rathole-caddy/caddy/Caddyfile",
				plan.ArtifactServerTunnelConfig: "/etc/rathole/server.toml",
			},
			Units: map[string]Unit{
				"rathole-server": {Name: "rathole-server", Kind: UnitSystemd, Sudo: true},
				"caddy":          {Name: "caddy", Kind: UnitCompose, Dir: "~/rathole-caddy/caddy"},
			},
		},
		"client": {
			Artifacts: map[plan.Artifact]string{plan.ArtifactClientTunnelConfig: "/etc/rathole/client.toml"},
			Units:     map[string]Unit{"rathole-client": {Name: "rathole-client", Kind: UnitSystemd, Sudo: true}},
		},
	}
	hooks := Hooks{
		Content: func(a plan.Artifact) ([]byte, error) {
			return []byte("content:" + string(a)), nil
		},
		Store: func(a plan.Artifact, content []byte) error {
			fx.mu.Lock()
			defer fx.mu.Unlock()
			fx.stored[a] = content
			return nil
		},
	}
	return NewDispatcher(connect, targets, hooks)
}

func fullPlan(t *testing.T) plan.Plan {
	t.Helper()
	p, err := plan.Build(services.Delta{}, plan.Policy{Force: true, Endpoints: plan.DefaultEndpoints()})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	return p
}

func TestDispatchFullPlan(t *testing.T) {
	testlog.Start(t)

	fx := newFixture()
	report, err := fx.dispatcher().Dispatch(context.Background(), fullPlan(t))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !report.OK() || len(report.Endpoints) != 2 || report.Endpoints[0].Endpoint != "server" {
		t.Fatalf("unexpected report: %+v", report)
	}

	wantServer := []string{
		"upload ~/rathole-caddy/caddy/Caddyfile",
		"upload /etc/rathole/server.toml",
		"sudo -n systemctl restart rathole-server",
		"docker compose --project-directory /home/ops/rathole-caddy/caddy restart caddy",
	}
	if diff := cmp.Diff(wantServer, fx.transports["server"].entries()); diff != "" {
		t.Fatalf("unexpected server commands (-want +got):\n%s", diff)
	}
	wantClient := []string{
		"upload /etc/rathole/client.toml",
		"sudo -n systemctl restart rathole-client",
	}
	if diff := cmp.Diff(wantClient, fx.transports["client"].entries()); diff != "" {
		t.Fatalf("unexpected client commands (-want +got):\n%s", diff)
	}

	if got := string(fx.transports["server"].files["/etc/rathole/server.toml"]); got != "content:server-tunnel-config" {
		t.Fatalf("unexpected uploaded content: %q", got)
	}
	for name, n := range fx.connects {
		if n != 1 {
			t.Fatalf("endpoint %s connected %d times", name, n)
		}
		if !fx.transports[name].closed {
			t.Fatalf("endpoint %s transport left open", name)
		}
	}
	server, _ := report.Endpoint("server")
	if server.LastCompleted != 4 || len(server.Completed) != 5 {
		t.Fatalf("unexpected server progress: %+v", server)
	}
}

func TestDispatchFailureIsolatedPerEndpoint(t *testing.T) {
	fx := newFixture()
	fx.transports["server"].failOn = "restart rathole-server"

	report, err := fx.dispatcher().Dispatch(context.Background(), fullPlan(t))
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if dispatchErr.Endpoint != "server" || dispatchErr.Unknown {
		t.Fatalf("unexpected dispatch error: %+v", dispatchErr)
	}

	server, _ := report.Endpoint("server")
	if server.Outcome != OutcomeFailed || server.Failed == nil || server.Failed.Unit != "rathole-server" {
		t.Fatalf("unexpected server report: %+v", server)
	}
	if server.LastCompleted != 2 {
		t.Fatalf("expected the two uploads to complete, got last=%d", server.LastCompleted)
	}
	for _, line := range fx.transports["server"].entries() {
		if strings.Contains(line, "caddy") && strings.Contains(line, "restart") {
			t.Fatalf("actions after a failure must not run: %s", line)
		}
	}

	client, _ := report.Endpoint("client")
	if client.Outcome != OutcomeSuccess {
		t.Fatalf("client must still deploy, got %+v", client)
	}
}

func TestDispatchTimeoutIsUnknown(t *testing.T) {
	fx := newFixture()
	fx.transports["client"].blockOn = "restart rathole-client"
	d := fx.dispatcher()
	d.Timeout = 50 * time.Millisecond

	report, err := d.Dispatch(context.Background(), fullPlan(t))
	if err == nil {
		t.Fatalf("expected dispatch error")
	}
	client, _ := report.Endpoint("client")
	if client.Outcome != OutcomeUnknown {
		t.Fatalf("expected unknown outcome, got %+v", client)
	}
	if !errors.Is(client.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", client.Err)
	}
	if client.LastCompleted != 1 {
		t.Fatalf("expected upload to be the last completed action, got %d", client.LastCompleted)
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) || !dispatchErr.Unknown {
		t.Fatalf("expected unknown DispatchError, got %v", err)
	}
	server, _ := report.Endpoint("server")
	if server.Outcome != OutcomeSuccess {
		t.Fatalf("server must finish independently, got %+v", server)
	}
}

func TestDispatchParallel(t *testing.T) {
	fx := newFixture()
	d := fx.dispatcher()
	d.Parallel = true

	report, err := d.Dispatch(context.Background(), fullPlan(t))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !report.OK() || report.Endpoints[0].Endpoint != "server" || report.Endpoints[1].Endpoint != "client" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestDispatchDryRunSkipsEverything(t *testing.T) {
	fx := newFixture()
	p := fullPlan(t)
	p.Execute = false

	report, err := fx.dispatcher().Dispatch(context.Background(), p)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, ep := range report.Endpoints {
		if ep.Outcome != OutcomeSkipped {
			t.Fatalf("expected skipped, got %+v", ep)
		}
	}
	if len(fx.connects) != 0 {
		t.Fatalf("dry run must not connect: %v", fx.connects)
	}
}

func TestDispatchConnectFailure(t *testing.T) {
	fx := newFixture()
	fx.connectErr["client"] = errors.New("dial refused")

	report, err := fx.dispatcher().Dispatch(context.Background(), fullPlan(t))
	if err == nil {
		t.Fatalf("expected error")
	}
	client, _ := report.Endpoint("client")
	if client.Outcome != OutcomeFailed || client.LastCompleted != 0 || client.Failed.Kind != plan.ActionUpload {
		t.Fatalf("unexpected client report: %+v", client)
	}
}

func TestDispatchCancelledBeforeStart(t *testing.T) {
	fx := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := fx.dispatcher().Dispatch(ctx, fullPlan(t))
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if dispatchErr.Action != nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected dispatch error: %+v", dispatchErr)
	}
	if !strings.Contains(err.Error(), "server: not started") || strings.Contains(err.Error(), "(, )") {
		t.Fatalf("unexpected message: %v", err)
	}
	server, _ := report.Endpoint("server")
	if server.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped server, got %+v", server)
	}
}

func TestDispatchPull(t *testing.T) {
	fx := newFixture()
	fx.transports["server"].files["~/rathole-caddy/caddy/Caddyfile"] = []byte("# a: h:1\n")
	p, err := plan.Pull(plan.DefaultEndpoints())
	if err != nil {
		t.Fatalf("pull plan: %v", err)
	}

	if _, err := fx.dispatcher().Dispatch(context.Background(), p); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(fx.stored[plan.ArtifactProxyConfig]) != "# a: h:1\n" {
		t.Fatalf("pulled content not stored: %v", fx.stored)
	}

	fx = newFixture()
	_, err = fx.dispatcher().Dispatch(context.Background(), p)
	if !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUnitStatus(t *testing.T) {
	ft := newFakeTransport()
	ft.outputs["systemctl is-active rathole-server"] = "inactive\n"
	ft.failOn = "is-active"
	ft.outputs["docker compose --project-directory /home/ops/caddy ps --format {{.State}} caddy"] = "running\n"

	state, err := Status(context.Background(), ft, Unit{Name: "rathole-server", Kind: UnitSystemd})
	if err != nil {
		t.Fatalf("inactive unit is not an error: %v", err)
	}
	if state.Active || state.State != "inactive" {
		t.Fatalf("unexpected systemd state: %+v", state)
	}

	state, err = Status(context.Background(), ft, Unit{Name: "caddy", Kind: UnitCompose, Dir: "~/caddy"})
	if err != nil {
		t.Fatalf("compose status: %v", err)
	}
	if !state.Active || state.State != "running" {
		t.Fatalf("unexpected compose state: %+v", state)
	}

	if _, err := Status(context.Background(), ft, Unit{Name: "x", Kind: "launchd"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
