package platform

import (
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opd-ai/go-cpumon/internal/monitor"
)

// NewCounterSource creates the counter source named by kind.
// SourceAuto selects procfs on Linux, the native API on macOS and gopsutil
// elsewhere. remote is only consulted for SourceSSH.
func NewCounterSource(kind SourceKind, remote RemoteConfig) (monitor.CounterSource, error) {
	if kind == "" || kind == SourceAuto {
		kind = defaultSourceKind()
	}

	switch kind {
	case SourceProcfs:
		return monitor.NewProcStatSource(""), nil
	case SourceNative:
		return newNativeSource()
	case SourceGopsutil:
		return newGopsutilSource(), nil
	case SourceSSH:
		src, err := newSSHSource(remote)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, kind)
	}
}

// NewProcessLister creates a process lister. Only SourceProcfs and
// SourceGopsutil name lister implementations; every other kind selects the
// default for the running OS.
func NewProcessLister(kind SourceKind) ProcessLister {
	switch kind {
	case SourceProcfs:
		return newProcfsProcessLister(defaultProcRoot)
	case SourceGopsutil:
		return newGopsutilProcessLister()
	}
	if defaultListerKind() == SourceProcfs {
		return newProcfsProcessLister(defaultProcRoot)
	}
	return newGopsutilProcessLister()
}

// CloseSource releases resources held by src, such as an SSH connection.
// Sources without resources are ignored.
func CloseSource(src monitor.CounterSource) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// RemoteConfig specifies connection parameters for the SSH counter source.
type RemoteConfig struct {
	// Host is the hostname or IP address of the remote system.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// AuthMethod specifies how to authenticate.
	AuthMethod AuthMethod

	// KnownHostsPath is the known_hosts file used to verify the server key.
	// Defaults to ~/.ssh/known_hosts.
	KnownHostsPath string

	// InsecureIgnoreHostKey disables host key verification. Only for tests
	// and trusted networks.
	InsecureIgnoreHostKey bool

	// HostKeyCallback overrides known_hosts verification when set.
	HostKeyCallback ssh.HostKeyCallback

	// StatPath is the counter file read on the remote host (default: /proc/stat).
	StatPath string

	// CommandTimeout is the timeout for one remote read (default: 5s).
	CommandTimeout time.Duration

	// DialTimeout bounds connection establishment (default: 10s).
	DialTimeout time.Duration

	// ReconnectInterval is the minimum time between connection attempts
	// after a failure (default: 5s).
	ReconnectInterval time.Duration
}

// Address returns host:port.
func (c RemoteConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(port))
}

// AuthMethod defines SSH authentication methods.
type AuthMethod interface {
	isAuthMethod()
}

// PasswordAuth authenticates using a password.
type PasswordAuth struct {
	Password string
}

func (PasswordAuth) isAuthMethod() {}

// KeyAuth authenticates using an SSH private key.
type KeyAuth struct {
	PrivateKeyPath string
	Passphrase     string // optional, for encrypted keys
}

func (KeyAuth) isAuthMethod() {}

// AgentAuth authenticates using the SSH agent.
type AgentAuth struct{}

func (AgentAuth) isAuthMethod() {}
