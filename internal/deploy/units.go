package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/rcm/internal/remote"
)

type UnitKind string

const (
	UnitSystemd UnitKind = "systemd"
	UnitCompose UnitKind = "compose"
)

// Unit is a restartable process on an endpoint. Dir is the compose project
// directory and is only used for compose units.
type Unit struct {
	Name string
	Kind UnitKind
	Dir  string
	Sudo bool
}

// UnitState is the observed state of one unit.
type UnitState struct {
	Unit   string
	State  string
	Active bool
}

func (u Unit) command(ctx context.Context, t remote.Transport, verb string) (string, []string, error) {
	switch u.Kind {
	case UnitCompose:
		dir, err := t.ExpandPath(ctx, u.Dir)
		if err != nil {
			return "", nil, err
		}
		args := []string{"compose", "--project-directory", dir}
		if verb == "status" {
			args = append(args, "ps", "--format", "{{.State}}", u.Name)
		} else {
			args = append(args, verb, u.Name)
		}
		return u.privileged("docker", args)
	case UnitSystemd, "":
		if verb == "status" {
			return "systemctl", []string{"is-active", u.Name}, nil
		}
		return u.privileged("systemctl", []string{verb, u.Name})
	default:
		return "", nil, fmt.Errorf("deploy: unknown unit kind %q for %s", u.Kind, u.Name)
	}
}

func (u Unit) privileged(cmd string, args []string) (string, []string, error) {
	if !u.Sudo {
		return cmd, args, nil
	}
	return "sudo", append([]string{"-n", cmd}, args...), nil
}

// Restart restarts the unit and waits for the command to return.
func Restart(ctx context.Context, t remote.Transport, u Unit) error {
	cmd, args, err := u.command(ctx, t, "restart")
	if err != nil {
		return err
	}
	if _, err := t.Run(ctx, cmd, args...); err != nil {
		return fmt.Errorf("deploy: restart %s: %w", u.Name, err)
	}
	return nil
}

// Status reports the unit's state. A unit that reports itself inactive is
// not an error.
func Status(ctx context.Context, t remote.Transport, u Unit) (UnitState, error) {
	cmd, args, err := u.command(ctx, t, "status")
	if err != nil {
		return UnitState{}, err
	}
	out, err := t.Run(ctx, cmd, args...)
	state := strings.TrimSpace(out)
	if err != nil {
		var cmdErr *remote.CommandError
		if !errors.As(err, &cmdErr) || state == "" {
			return UnitState{Unit: u.Name, State: "unknown"}, fmt.Errorf("deploy: status %s: %w", u.Name, err)
		}
	}
	if state == "" {
		state = "not found"
	}
	want := "active"
	if u.Kind == UnitCompose {
		want = "running"
	}
	return UnitState{Unit: u.Name, State: state, Active: state == want}, nil
}
