package remote

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidConfig = errors.New("remote: invalid ssh config")
	ErrNotFound      = errors.New("remote: file not found")
	ErrClosed        = errors.New("remote: connection closed")
)

// CommandError is a remote command that ran and exited non-zero.
type CommandError struct {
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("remote: %s exited with status %d", e.Command, e.ExitStatus)
	}
	return fmt.Sprintf("remote: %s exited with status %d: %s", e.Command, e.ExitStatus, msg)
}
