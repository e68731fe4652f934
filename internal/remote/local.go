package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Local runs commands and file operations on this host, for endpoints that
// are the machine rcm runs on.
type Local struct{}

var _ Transport = Local{}

func (Local) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), ctxErr
	}

	command := joinCommand(name, args)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), &CommandError{Command: command, ExitStatus: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return stdout.String(), fmt.Errorf("remote: %s: %w", command, err)
}

func (l Local) Upload(ctx context.Context, path string, content []byte) error {
	target, err := l.ExpandPath(ctx, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("remote: upload %s: %w", target, err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("remote: upload %s: %w", target, err)
	}
	return nil
}

func (l Local) Download(ctx context.Context, path string) ([]byte, error) {
	target, err := l.ExpandPath(ctx, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	if err != nil {
		return nil, fmt.Errorf("remote: download %s: %w", target, err)
	}
	return content, nil
}

func (Local) ExpandPath(_ context.Context, path string) (string, error) {
	if !needsHome(path) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("remote: resolve home: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")), nil
}

func (Local) Close() error {
	return nil
}
