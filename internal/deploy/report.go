package deploy

import (
	"fmt"
	"time"

	"github.com/danmuck/rcm/internal/plan"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeUnknown Outcome = "unknown"
	OutcomeSkipped Outcome = "skipped"
)

// EndpointReport is the progress made against one endpoint. LastCompleted is
// the plan-slice index of the last finished action, or -1.
type EndpointReport struct {
	Endpoint      string
	Outcome       Outcome
	Actions       []plan.Action
	Completed     []plan.Action
	Failed        *plan.Action
	LastCompleted int
	Err           error
	Duration      time.Duration
}

// Report lists endpoints in the order they first appear in the plan.
type Report struct {
	Endpoints []EndpointReport
}

// OK reports whether every endpoint succeeded.
func (r Report) OK() bool {
	for _, ep := range r.Endpoints {
		if ep.Outcome != OutcomeSuccess {
			return false
		}
	}
	return true
}

func (r Report) Endpoint(name string) (EndpointReport, bool) {
	for _, ep := range r.Endpoints {
		if ep.Endpoint == name {
			return ep, true
		}
	}
	return EndpointReport{}, false
}

// DispatchError describes one endpoint that did not finish its actions.
// Action is nil when the endpoint never started.
type DispatchError struct {
	Endpoint      string
	Action        *plan.Action
	LastCompleted int
	Unknown       bool
	Err           error
}

func (e *DispatchError) Error() string {
	if e.Action == nil {
		return fmt.Sprintf("deploy: %s: not started: %v", e.Endpoint, e.Err)
	}
	state := "failed"
	if e.Unknown {
		state = "interrupted, remote state unknown"
	}
	return fmt.Sprintf("deploy: %s: %s %s (completed %d actions): %v",
		e.Endpoint, *e.Action, state, e.LastCompleted+1, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
