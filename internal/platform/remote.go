package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/opd-ai/go-cpumon/internal/monitor"
)

const (
	defaultSSHPort           = 22
	defaultStatPath          = "/proc/stat"
	defaultCommandTimeout    = 5 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultReconnectInterval = 5 * time.Second
)

// errNotConnected is returned while waiting out the reconnect interval.
var errNotConnected = errors.New("ssh client not connected")

// sshSource implements monitor.CounterSource for a remote Linux host.
// It runs a fixed `cat` of the counter file in a new session per read and
// parses the output locally, so nothing needs to be installed on the target.
//
// The connection is opened lazily on the first read and reopened on the read
// after a failure.
type sshSource struct {
	config  RemoteConfig
	command string

	// dial is replaced in tests.
	dial func(ctx context.Context, network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)
	now  func() time.Time

	mu          sync.Mutex
	client      *ssh.Client
	lastAttempt time.Time
	closed      bool
}

// newSSHSource validates config and applies defaults. It does not connect.
func newSSHSource(config RemoteConfig) (*sshSource, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if config.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if config.AuthMethod == nil {
		return nil, fmt.Errorf("authentication method is required")
	}

	if config.Port == 0 {
		config.Port = defaultSSHPort
	}
	if config.StatPath == "" {
		config.StatPath = defaultStatPath
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = defaultCommandTimeout
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = defaultReconnectInterval
	}

	command, err := remoteStatCommand(config.StatPath)
	if err != nil {
		return nil, err
	}

	return &sshSource{
		config:  config,
		command: command,
		dial:    dialContext,
		now:     time.Now,
	}, nil
}

// Name implements monitor.CounterSource.
func (s *sshSource) Name() string {
	return "ssh"
}

// ReadTimes implements monitor.CounterSource.
func (s *sshSource) ReadTimes(ctx context.Context) (monitor.CPUTimes, []monitor.CPUTimes, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return monitor.CPUTimes{}, nil, fmt.Errorf("%w: %s: %w", monitor.ErrCounterSource, s.config.Address(), err)
	}

	out, err := s.run(ctx, client)
	if err != nil {
		// Drop the client so the next read reconnects.
		s.disconnect(client)
		return monitor.CPUTimes{}, nil, fmt.Errorf("%w: %s: %w", monitor.ErrCounterSource, s.config.Address(), err)
	}

	total, cores, err := monitor.ParseProcStat(bytes.NewReader(out))
	if err != nil {
		return monitor.CPUTimes{}, nil, fmt.Errorf("%s:%s: %w", s.config.Host, s.config.StatPath, err)
	}
	return total, cores, nil
}

// connect returns the current client, dialing if there is none and the
// reconnect interval has elapsed since the last attempt.
func (s *sshSource) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("source closed")
	}
	if s.client != nil {
		return s.client, nil
	}

	now := s.now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.config.ReconnectInterval {
		return nil, errNotConnected
	}
	s.lastAttempt = now

	sshConfig, err := s.buildSSHConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build SSH config: %w", err)
	}

	client, err := s.dial(ctx, "tcp", s.config.Address(), sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	s.client = client
	return client, nil
}

// dialContext opens an SSH client. Both the TCP connect and the SSH handshake
// are bounded by cfg.Timeout and by ctx.
func dialContext(ctx context.Context, network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	// Closing the connection aborts a handshake in progress.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		if err == nil {
			c.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// disconnect closes client if it is still the current one.
func (s *sshSource) disconnect(client *ssh.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == client {
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *sshSource) buildSSHConfig() (*ssh.ClientConfig, error) {
	authMethods, err := s.buildAuthMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := s.buildHostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            s.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.config.DialTimeout,
	}, nil
}

func (s *sshSource) buildAuthMethods() ([]ssh.AuthMethod, error) {
	switch auth := s.config.AuthMethod.(type) {
	case PasswordAuth:
		return []ssh.AuthMethod{ssh.Password(auth.Password)}, nil
	case KeyAuth:
		key, err := os.ReadFile(expandHome(auth.PrivateKeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if auth.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(auth.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	case AgentAuth:
		socket := os.Getenv("SSH_AUTH_SOCK")
		if socket == "" {
			return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
		}
		// The agent is contacted only when the server asks for a key.
		return []ssh.AuthMethod{ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			agentConn, err := net.Dial("unix", socket)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
			}
			defer agentConn.Close()

			signers, err := agent.NewClient(agentConn).Signers()
			if err != nil {
				return nil, fmt.Errorf("failed to get signers from SSH agent: %w", err)
			}
			return signers, nil
		})}, nil
	default:
		return nil, fmt.Errorf("unsupported auth method type: %T", auth)
	}
}

// buildHostKeyCallback returns the explicit callback if one is configured,
// the insecure callback if verification is disabled, and otherwise a
// known_hosts checker.
func (s *sshSource) buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.config.HostKeyCallback != nil {
		return s.config.HostKeyCallback, nil
	}
	if s.config.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := s.config.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	path = expandHome(path)

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("known_hosts file not found: %s: %w", path, err)
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", path, err)
	}
	return callback, nil
}

// run executes the stat command and returns its stdout.
func (s *sshSource) run(ctx context.Context, client *ssh.Client) ([]byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(s.command)
	}()

	timer := time.NewTimer(s.config.CommandTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.Bytes(), nil
	case <-timer.C:
		// Ensure the remote command is actually terminated on timeout.
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, fmt.Errorf("command timed out after %v", s.config.CommandTimeout)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, ctx.Err()
	}
}

// Close closes the SSH connection. Further reads fail.
func (s *sshSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

// remoteStatCommand builds the command that prints path on the remote host.
// The path is restricted to a conservative character set and single-quoted.
func remoteStatCommand(path string) (string, error) {
	if path == "" || strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid remote stat path %q", path)
	}
	for _, c := range path {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '/', c == '.':
		default:
			return "", fmt.Errorf("invalid remote stat path %q", path)
		}
	}
	return "cat '" + path + "'", nil
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
