package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hostbeat/hostbeat/internal/errors"
	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/pkg/sshutil"
)

// State is the connection lifecycle state of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Sentinel causes carried inside structured errors so callers can classify
// failures with errors.Is without string matching.
var (
	ErrNotConfigured  = stderrors.New("session not configured")
	ErrNotConnected   = stderrors.New("session not connected")
	ErrAuth           = stderrors.New("authentication failed")
	ErrTimeout        = stderrors.New("connection timed out")
	ErrUnreachable    = stderrors.New("host unreachable")
	ErrChannelDropped = stderrors.New("channel dropped")
)

// outputSeparator delimits command outputs in the batched round trip.
// The marker is echoed between commands and never appears in metric output.
const outputSeparator = "__HOSTBEAT_SEP__"

// DialFunc opens an SSH connection. Injectable for tests.
type DialFunc func(settings sshutil.Settings, timeout time.Duration) (sshutil.SSHClient, error)

func defaultDial(settings sshutil.Settings, timeout time.Duration) (sshutil.SSHClient, error) {
	return sshutil.Dial(settings, timeout)
}

// Info is a point-in-time view of the session for status reporting.
// Credentials never appear here.
type Info struct {
	Hostname    string    `json:"hostname"`
	Port        string    `json:"port"`
	Username    string    `json:"username"`
	State       State     `json:"state"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

// Session manages one SSH connection through its lifecycle:
// disconnected, connecting, connected, and back. A transient failure leaves
// the session disconnected with the error recorded, never wedged in between.
//
// All methods are safe for concurrent use. Execute is single-flight: the
// scheduler never overlaps command batches on one connection.
type Session struct {
	mu          sync.Mutex
	settings    sshutil.Settings
	configured  bool
	state       State
	client      sshutil.SSHClient
	lastErr     error
	connectedAt time.Time

	dial    DialFunc
	timeout time.Duration
	log     logger.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithDialFunc overrides how the session opens SSH connections.
func WithDialFunc(dial DialFunc) Option {
	return func(s *Session) { s.dial = dial }
}

// WithTimeout sets the connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithLogger sets the session logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Session) { s.log = log }
}

// New creates an unconfigured, disconnected session.
func New(opts ...Option) *Session {
	s := &Session{
		state:   StateDisconnected,
		dial:    defaultDial,
		timeout: 10 * time.Second,
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure validates and stores connection settings. An existing connection
// is torn down first so the next Connect uses the new credentials.
func (s *Session) Configure(settings sshutil.Settings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()
	s.settings = settings
	s.configured = true
	s.lastErr = nil
	s.log.Debug("session configured for %s@%s:%s", settings.Username, settings.Hostname, settings.Port)
	return nil
}

func validateSettings(settings sshutil.Settings) error {
	if strings.TrimSpace(settings.Hostname) == "" {
		return errors.New(errors.ErrConfig,
			"Hostname is required",
			"Provide the remote host to monitor")
	}
	if settings.Port != "" {
		port, err := strconv.Atoi(settings.Port)
		if err != nil || port < 1 || port > 65535 {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Invalid port %q", settings.Port),
				"Port must be a number between 1 and 65535")
		}
	}
	return nil
}

// Connect dials the configured host. On success the session is connected;
// on failure it returns to disconnected with the classified error recorded.
// Connecting while already connected reconnects.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return errors.New(errors.ErrConfig,
			"Session has no connection settings",
			"Configure the connection before connecting").WithCause(ErrNotConfigured)
	}

	s.closeLocked()
	s.state = StateConnecting
	settings := s.settings
	timeout := s.timeout
	s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	client, err := s.dialWithContext(ctx, settings, timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		classified := classifyConnectError(err, settings.Hostname)
		s.state = StateDisconnected
		s.lastErr = classified
		return classified
	}

	s.client = client
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.lastErr = nil
	s.log.Info("connected to %s (%s)", settings.Hostname, client.GetAddress())
	return nil
}

// dialWithContext runs the blocking dial in a goroutine so a cancelled
// context doesn't leave the caller stuck behind a slow TCP handshake.
func (s *Session) dialWithContext(ctx context.Context, settings sshutil.Settings, timeout time.Duration) (sshutil.SSHClient, error) {
	type dialResult struct {
		client sshutil.SSHClient
		err    error
	}

	ch := make(chan dialResult, 1)
	go func() {
		client, err := s.dial(settings, timeout)
		ch <- dialResult{client, err}
	}()

	select {
	case res := <-ch:
		return res.client, res.err
	case <-ctx.Done():
		// The dial goroutine will close any late connection itself.
		go func() {
			if res := <-ch; res.client != nil {
				res.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// classifyConnectError maps raw dial failures to structured errors carrying
// a sentinel cause.
func classifyConnectError(err error, hostname string) error {
	var hbErr *errors.Error
	isStructured := stderrors.As(err, &hbErr)

	switch {
	case sshutil.IsAuthError(err):
		e := errors.New(errors.ErrConnect,
			fmt.Sprintf("Authentication to '%s' failed", hostname),
			"Check the username, password, or loaded keys: ssh-add -l")
		return e.WithCause(fmt.Errorf("%w: %v", ErrAuth, err))
	case stderrors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "timeout") ||
		strings.Contains(err.Error(), "timed out"):
		e := errors.New(errors.ErrConnect,
			fmt.Sprintf("Connection to '%s' timed out", hostname),
			"Host might be offline or blocked by a firewall")
		return e.WithCause(fmt.Errorf("%w: %v", ErrTimeout, err))
	case stderrors.Is(err, context.Canceled):
		return err
	default:
		if isStructured {
			return hbErr.WithCause(fmt.Errorf("%w: %v", ErrUnreachable, hbErr.Cause))
		}
		e := errors.New(errors.ErrConnect,
			fmt.Sprintf("Can't reach '%s'", hostname),
			"Make sure the host is reachable: ping <host>")
		return e.WithCause(fmt.Errorf("%w: %v", ErrUnreachable, err))
	}
}

// Disconnect tears down the connection. Safe to call in any state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// closeLocked closes the client and resets to disconnected.
// Caller holds s.mu.
func (s *Session) closeLocked() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
		s.log.Debug("connection to %s closed", s.settings.Hostname)
	}
	s.state = StateDisconnected
	s.connectedAt = time.Time{}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a credential-free status view.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Hostname:    s.settings.Hostname,
		Port:        s.settings.Port,
		Username:    s.settings.Username,
		State:       s.state,
		ConnectedAt: s.connectedAt,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// Hostname returns the configured hostname.
func (s *Session) Hostname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Hostname
}

// Execute runs the command batch in one round trip and returns each
// command's output keyed by command. Batches are single-flight: concurrent
// callers serialize on the session.
//
// A dropped channel gets exactly one reconnect-and-retry; a second failure
// surfaces to the caller and the session records the error.
func (s *Session) Execute(ctx context.Context, commands []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || s.client == nil {
		return nil, errors.New(errors.ErrConnect,
			"No active SSH connection",
			"Connect before collecting metrics").WithCause(ErrNotConnected)
	}

	// A connection that stopped answering keepalives goes straight to the
	// reconnect path instead of burning a round trip on a doomed batch.
	if s.client.IsAlive() {
		outputs, err := s.runBatchLocked(ctx, commands)
		if err == nil {
			return outputs, nil
		}
		if !isDroppedChannel(err) || ctx.Err() != nil {
			s.lastErr = err
			return nil, err
		}
		s.log.Warn("channel to %s dropped, reconnecting", s.settings.Hostname)
	} else {
		s.log.Warn("connection to %s went stale, reconnecting", s.settings.Hostname)
	}

	// One reconnect attempt per batch.
	s.closeLocked()

	client, dialErr := s.dial(s.settings, s.timeout)
	if dialErr != nil {
		classified := classifyConnectError(dialErr, s.settings.Hostname)
		s.lastErr = classified
		return nil, classified
	}
	s.client = client
	s.state = StateConnected
	s.connectedAt = time.Now()

	outputs, err := s.runBatchLocked(ctx, commands)
	if err != nil {
		s.lastErr = err
		return nil, err
	}
	s.lastErr = nil
	return outputs, nil
}

// runBatchLocked joins the commands with separator echoes, runs the batch,
// and splits the output back out. Caller holds s.mu.
func (s *Session) runBatchLocked(ctx context.Context, commands []string) (map[string]string, error) {
	if len(commands) == 0 {
		return map[string]string{}, nil
	}

	batch := strings.Join(commands, " ; echo "+outputSeparator+" ; ")

	type execResult struct {
		stdout []byte
		err    error
	}
	ch := make(chan execResult, 1)
	client := s.client
	go func() {
		stdout, _, _, err := client.Exec(batch)
		ch <- execResult{stdout, err}
	}()

	var res execResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		// Abandon the in-flight exec; the connection is torn down so the
		// remote side doesn't keep a zombie channel.
		client.Close()
		<-ch
		return nil, errors.WrapWithCode(ctx.Err(), errors.ErrExec,
			"Command batch timed out",
			"The remote host is responding too slowly").WithCause(
			fmt.Errorf("%w: %v", ErrTimeout, ctx.Err()))
	}

	if res.err != nil {
		return nil, res.err
	}

	sections := strings.Split(string(res.stdout), outputSeparator)
	if len(sections) < len(commands) {
		return nil, errors.New(errors.ErrExec,
			"Command batch returned incomplete output",
			"").WithCause(ErrChannelDropped)
	}

	outputs := make(map[string]string, len(commands))
	for i, cmd := range commands {
		outputs[cmd] = strings.TrimSpace(sections[i])
	}
	return outputs, nil
}

// isDroppedChannel reports whether an exec failure looks like the SSH
// channel went away rather than the command misbehaving.
func isDroppedChannel(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrChannelDropped) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "session channel closed") ||
		strings.Contains(errStr, "Failed to create SSH session")
}
