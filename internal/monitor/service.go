package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/hostbeat/hostbeat/internal/errors"
	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/metrics"
	"github.com/hostbeat/hostbeat/internal/registry"
	"github.com/hostbeat/hostbeat/internal/session"
)

// SessionFactory builds a fresh session. Injectable for tests.
type SessionFactory func() *session.Session

// Mode names which source the service is currently collecting from.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// ConnectionStatus is the credential-free connection view served over HTTP
// and pushed to WebSocket clients on state changes.
type ConnectionStatus struct {
	Mode     Mode                `json:"mode"`
	Session  *session.Info       `json:"session,omitempty"`
	Profiles []registry.Redacted `json:"profiles"`
}

// Service owns the collection pipeline: it picks the active source (local
// OS or a connected remote session), feeds the scheduler, and drives the
// connect/switch protocol against the registry.
//
// Switching targets is atomic from the consumer's point of view: the new
// connection is established first, and only on success does the active
// source change hands. A failed switch leaves the previous target polling
// undisturbed.
type Service struct {
	registry *registry.Registry
	dist     *Distributor
	sched    *Scheduler
	log      logger.Logger

	newSession SessionFactory
	services   []string

	mu     sync.RWMutex
	local  metrics.Source
	remote *metrics.RemoteSource
	sess   *session.Session
	source metrics.Source
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSessionFactory overrides how sessions are built.
func WithSessionFactory(f SessionFactory) ServiceOption {
	return func(s *Service) { s.newSession = f }
}

// WithLocalSource overrides the local metrics source.
func WithLocalSource(src metrics.Source) ServiceOption {
	return func(s *Service) { s.local = src }
}

// WithServices sets the service list checked on every host.
func WithServices(services []string) ServiceOption {
	return func(s *Service) { s.services = services }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(log logger.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// NewService creates a service collecting locally until a remote target is
// connected. The scheduler starts stopped.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry.New(),
		log:      logger.Default(),
		services: metrics.DefaultServices,
		newSession: func() *session.Session {
			return session.New(WithConnectTimeout())
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.local == nil {
		s.local = metrics.NewLocalSource(s.services)
	}
	s.source = s.local
	s.dist = NewDistributor(s.log)
	s.sched = NewScheduler(s.Collect, s.dist, s.log)
	s.sched.SetSourceInfo(s.activeSourceInfo)
	return s
}

// activeSourceInfo attributes degraded snapshots to whichever source is
// active when the failure happens.
func (s *Service) activeSourceInfo() metrics.SourceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.remote != nil {
		return metrics.SourceInfo{
			Origin:   metrics.OriginRemote,
			MemUnit:  metrics.MemUnitPercent,
			Hostname: s.remote.Hostname(),
		}
	}
	return metrics.LocalSourceInfo()
}

// WithConnectTimeout is the default session option set used by the service.
func WithConnectTimeout() session.Option {
	return session.WithTimeout(10 * time.Second)
}

// Collect gathers one snapshot from whichever source is active.
func (s *Service) Collect(ctx context.Context) (*metrics.Snapshot, error) {
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()
	return src.Collect(ctx)
}

// LocalSnapshot collects from the local OS regardless of the active source.
func (s *Service) LocalSnapshot(ctx context.Context) (*metrics.Snapshot, error) {
	s.mu.RLock()
	src := s.local
	s.mu.RUnlock()
	return src.Collect(ctx)
}

// RemoteSnapshot collects from the connected remote host. Fails when no
// remote target is active.
func (s *Service) RemoteSnapshot(ctx context.Context) (*metrics.Snapshot, error) {
	s.mu.RLock()
	remote := s.remote
	s.mu.RUnlock()

	if remote == nil {
		return nil, errors.New(errors.ErrConnect,
			"No remote host connected",
			"Connect to a host first").WithCause(session.ErrNotConnected)
	}
	return remote.Collect(ctx)
}

// Configure validates and stores a connection profile without connecting.
func (s *Service) Configure(p registry.Profile) (registry.Key, error) {
	key, err := s.registry.AddOrUpdate(p)
	if err != nil {
		return registry.Key{}, err
	}
	s.log.Debug("profile stored for %s", key)
	return key, nil
}

// Connect establishes a connection to a stored profile and makes it the
// active source. The previous connection, if any, stays active until the
// new one succeeds; on failure nothing changes.
func (s *Service) Connect(ctx context.Context, key registry.Key) error {
	profile, ok := s.registry.Get(key)
	if !ok {
		return errors.New(errors.ErrConfig,
			"No profile for "+key.String(),
			"Configure the connection first")
	}

	candidate := s.newSession()
	if err := candidate.Configure(profile.Settings()); err != nil {
		return err
	}
	if err := candidate.Connect(ctx); err != nil {
		candidate.Disconnect()
		return err
	}

	services := profile.Services
	if len(services) == 0 {
		services = s.services
	}
	remote := metrics.NewRemoteSource(candidate, profile.Hostname, services)

	s.mu.Lock()
	old := s.sess
	s.sess = candidate
	s.remote = remote
	s.source = remote
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	if err := s.registry.SetActive(key); err != nil {
		return err
	}

	s.log.Info("monitoring %s", profile.Hostname)
	return nil
}

// Switch stores a profile and connects to it in one step.
func (s *Service) Switch(ctx context.Context, p registry.Profile) (registry.Key, error) {
	key, err := s.Configure(p)
	if err != nil {
		return registry.Key{}, err
	}
	if err := s.Connect(ctx, key); err != nil {
		return key, err
	}
	return key, nil
}

// Disconnect drops the remote connection and falls back to local
// collection. Safe to call when already local.
func (s *Service) Disconnect() {
	s.mu.Lock()
	old := s.sess
	s.sess = nil
	s.remote = nil
	s.source = s.local
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
		s.log.Info("disconnected, monitoring local host")
	}
	s.registry.ClearActive()
}

// RemoveProfile deletes a stored profile. Removing the active profile
// disconnects first, falling back to local collection.
func (s *Service) RemoveProfile(key registry.Key) bool {
	if active, ok := s.registry.Active(); ok && active.Key() == key {
		s.Disconnect()
	}
	return s.registry.Remove(key)
}

// Mode reports whether collection is local or remote.
func (s *Service) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.remote != nil {
		return ModeRemote
	}
	return ModeLocal
}

// ConnectionStatus returns the current connection view.
func (s *Service) ConnectionStatus() ConnectionStatus {
	s.mu.RLock()
	sess := s.sess
	s.mu.RUnlock()

	status := ConnectionStatus{
		Mode:     s.Mode(),
		Profiles: s.registry.List(),
	}
	if sess != nil {
		info := sess.Info()
		status.Session = &info
	}
	return status
}

// Registry exposes the profile store.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Scheduler exposes the collection scheduler.
func (s *Service) Scheduler() *Scheduler {
	return s.sched
}

// Distributor exposes the snapshot fan-out.
func (s *Service) Distributor() *Distributor {
	return s.dist
}

// Close stops the scheduler, drops any connection, and closes all
// subscriber channels.
func (s *Service) Close() {
	s.sched.Stop()
	s.Disconnect()
	s.dist.Close()
}
