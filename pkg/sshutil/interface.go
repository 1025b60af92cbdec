package sshutil

// SSHClient defines the interface for SSH command execution.
// Both the real Client and test fakes satisfy this interface, letting the
// session layer be exercised without real connections.
type SSHClient interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(cmd string) (stdout, stderr []byte, exitCode int, err error)

	// IsAlive reports whether the underlying connection still responds.
	IsAlive() bool

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the hostname used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}
