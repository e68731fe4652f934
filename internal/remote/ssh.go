package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/danmuck/rcm/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultDialAttempts = 3
	defaultDialDelay    = 500 * time.Millisecond
	defaultDialTimeout  = 10 * time.Second
)

// Transport is the command and file surface the deployer drives.
type Transport interface {
	Run(ctx context.Context, cmd string, args ...string) (string, error)
	Upload(ctx context.Context, path string, content []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
	ExpandPath(ctx context.Context, path string) (string, error)
	Close() error
}

// Config describes one SSH endpoint.
type Config struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
	DialAttempts                uint
	DialDelay                   time.Duration
}

// Client is one established SSH connection. It is safe for sequential use by
// one endpoint worker.
type Client struct {
	cfg    Config
	conn   *ssh.Client
	log    zerolog.Logger
	mu     sync.Mutex
	home   string
	closed bool
}

var _ Transport = (*Client)(nil)

// Dial connects to cfg, retrying transient network failures. Configuration
// problems fail on the first attempt.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	address, err := cfg.address()
	if err != nil {
		return nil, err
	}
	clientConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	attempts := cfg.DialAttempts
	if attempts == 0 {
		attempts = defaultDialAttempts
	}
	delay := cfg.DialDelay
	if delay <= 0 {
		delay = defaultDialDelay
	}
	log := logging.Component("remote").With().Str("host", address).Logger()

	conn, err := retry.DoWithData(
		func() (*ssh.Client, error) {
			return dial(ctx, address, clientConfig, cfg.dialTimeout())
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Uint("attempt", n+1).Err(err).Msg("ssh dial failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", address, err)
	}
	log.Debug().Msg("ssh connected")
	return &Client{cfg: cfg, conn: conn, log: log}, nil
}

func dial(ctx context.Context, address string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

// retryable rejects host key and authentication failures; repeating them
// cannot succeed.
func retryable(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !strings.Contains(err.Error(), "unable to authenticate")
}

func (c Config) dialTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultDialTimeout
}

func (c Config) address() (string, error) {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}

	if c.Port != "" {
		return net.JoinHostPort(host, c.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	if c.User == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidConfig)
	}

	signer, err := c.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := c.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.dialTimeout(),
	}, nil
}

func (c Config) signer() (ssh.Signer, error) {
	if c.KeyPath == "" {
		return nil, fmt.Errorf("%w: key path is required", ErrInvalidConfig)
	}

	privateKey, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read key: %v", ErrInvalidConfig, err)
	}

	var signer ssh.Signer
	if len(c.Passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKey, c.Passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(privateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse key %s: %v", ErrInvalidConfig, c.KeyPath, err)
	}
	return signer, nil
}

func (c Config) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(c.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: known hosts path not set and home dir unavailable", ErrInvalidConfig)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: known hosts: %v", ErrInvalidConfig, err)
	}
	return callback, nil
}

// Run executes cmd with shell-escaped args and returns stdout.
func (c *Client) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	return c.exec(ctx, joinCommand(cmd, args), nil)
}

// Upload writes content to path, creating parent directories.
func (c *Client) Upload(ctx context.Context, path string, content []byte) error {
	target, err := c.ExpandPath(ctx, path)
	if err != nil {
		return err
	}
	if _, err := c.exec(ctx, uploadScript(target), bytes.NewReader(content)); err != nil {
		return fmt.Errorf("remote: upload %s: %w", target, err)
	}
	c.log.Debug().Str("path", target).Int("bytes", len(content)).Msg("uploaded")
	return nil
}

// Download returns the content at path, or ErrNotFound when it does not exist.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	target, err := c.ExpandPath(ctx, path)
	if err != nil {
		return nil, err
	}
	out, err := c.exec(ctx, downloadScript(target), nil)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitStatus == notFoundStatus {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
		}
		return nil, fmt.Errorf("remote: download %s: %w", target, err)
	}
	return []byte(out), nil
}

// ExpandPath resolves a leading "~" against the remote user's $HOME.
func (c *Client) ExpandPath(ctx context.Context, path string) (string, error) {
	if !needsHome(path) {
		return path, nil
	}
	c.mu.Lock()
	home := c.home
	c.mu.Unlock()
	if home == "" {
		out, err := c.exec(ctx, `printf '%s' "$HOME"`, nil)
		if err != nil {
			return "", fmt.Errorf("remote: resolve home: %w", err)
		}
		home = strings.TrimSpace(out)
		if home == "" {
			return "", fmt.Errorf("remote: resolve home: empty $HOME")
		}
		c.mu.Lock()
		c.home = home
		c.mu.Unlock()
	}
	return expandHome(path, home), nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// exec runs one command in a fresh session. Cancelling ctx kills the session;
// the command's effect on the host is then unknown.
func (c *Client) exec(ctx context.Context, command string, stdin io.Reader) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("remote: open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	c.log.Trace().Str("command", command).Msg("exec")
	if err := session.Start(command); err != nil {
		return "", fmt.Errorf("remote: start %q: %w", command, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return stdout.String(), commandError(command, err, stderr.String())
		}
		return stdout.String(), nil
	}
}

func commandError(command string, err error, stderr string) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{Command: command, ExitStatus: exitErr.ExitStatus(), Stderr: stderr}
	}
	return fmt.Errorf("remote: %s: %w", command, err)
}
