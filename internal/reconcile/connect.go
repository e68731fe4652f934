package reconcile

import (
	"context"
	"fmt"

	"github.com/danmuck/rcm/internal/config"
	"github.com/danmuck/rcm/internal/deploy"
	"github.com/danmuck/rcm/internal/remote"
)

// Endpoint names used in plans and reports.
const (
	ServerEndpoint = "server"
	ClientEndpoint = "client"
)

// NewSSHConnector dials the configured host for each endpoint name. Endpoints
// marked local get a transport on this machine.
func NewSSHConnector(cfg config.Config) deploy.ConnectFunc {
	return func(ctx context.Context, endpoint string) (remote.Transport, error) {
		var ssh config.SSH
		switch endpoint {
		case ServerEndpoint:
			ssh = cfg.Server.SSH
		case ClientEndpoint:
			ssh = cfg.Client.SSH
		default:
			return nil, fmt.Errorf("%w: %s", deploy.ErrUnknownEndpoint, endpoint)
		}
		if ssh.Local {
			return remote.Local{}, nil
		}
		rc, err := remoteConfig(cfg, ssh)
		if err != nil {
			return nil, err
		}
		return remote.Dial(ctx, rc)
	}
}

func remoteConfig(cfg config.Config, ssh config.SSH) (remote.Config, error) {
	key, err := cfg.KeyPath(ssh.SSHKey)
	if err != nil {
		return remote.Config{}, err
	}
	knownHosts, err := config.ExpandHome(ssh.KnownHosts)
	if err != nil {
		return remote.Config{}, err
	}
	return remote.Config{
		Host:                        ssh.Host,
		Port:                        ssh.Port,
		User:                        ssh.User,
		KeyPath:                     key,
		KnownHostsPath:              knownHosts,
		InsecureSkipHostKeyChecking: ssh.InsecureIgnoreHostKey,
		DialAttempts:                cfg.Deploy.DialAttempts,
	}, nil
}
