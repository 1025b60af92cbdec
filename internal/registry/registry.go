// Package registry tracks saved connection profiles and which one is active.
// It is pure bookkeeping: the monitor service drives the connect/switch
// protocol and consults the registry for credentials and the active marker.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hostbeat/hostbeat/internal/errors"
	"github.com/hostbeat/hostbeat/pkg/sshutil"
)

// Key uniquely identifies a profile. Two profiles for the same host under
// different users are distinct entries.
type Key struct {
	Hostname string
	Port     string
	Username string
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%s", k.Username, k.Hostname, k.Port)
}

// Profile holds everything needed to open a connection to one host.
// Password and IdentityFile are write-only: they never appear in listings.
type Profile struct {
	Hostname     string
	Port         string
	Username     string
	Password     string
	IdentityFile string
	Services     []string
	LastUsed     time.Time
}

// Key returns the identity of this profile.
func (p Profile) Key() Key {
	return Key{Hostname: p.Hostname, Port: p.Port, Username: p.Username}
}

// Settings converts the profile to dialable connection settings.
func (p Profile) Settings() sshutil.Settings {
	return sshutil.Settings{
		Hostname:     p.Hostname,
		Port:         p.Port,
		Username:     p.Username,
		Password:     p.Password,
		IdentityFile: p.IdentityFile,
	}
}

// Redacted is the credential-free view of a profile used in listings and
// API responses.
type Redacted struct {
	Hostname    string    `json:"hostname"`
	Port        string    `json:"port"`
	Username    string    `json:"username"`
	HasPassword bool      `json:"has_password"`
	HasKey      bool      `json:"has_key"`
	Active      bool      `json:"active"`
	LastUsed    time.Time `json:"last_used,omitempty"`
}

// Registry is a thread-safe store of connection profiles. At most one
// profile is active at a time.
type Registry struct {
	mu       sync.RWMutex
	profiles map[Key]Profile
	active   *Key

	// lastConfigured remembers the most recent upsert so a connect request
	// without an explicit target has something to act on.
	lastConfigured *Key
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{profiles: make(map[Key]Profile)}
}

// Validate checks that a profile has the fields needed to dial.
func Validate(p Profile) error {
	if strings.TrimSpace(p.Hostname) == "" {
		return errors.New(errors.ErrConfig,
			"Profile hostname is required",
			"Provide the remote host to monitor")
	}
	if strings.TrimSpace(p.Username) == "" {
		return errors.New(errors.ErrConfig,
			"Profile username is required",
			"Provide the SSH user for the host")
	}
	if p.Port != "" {
		port, err := strconv.Atoi(p.Port)
		if err != nil || port < 1 || port > 65535 {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Invalid port %q", p.Port),
				"Port must be a number between 1 and 65535")
		}
	}
	return nil
}

// AddOrUpdate stores a profile, replacing any existing entry with the same
// key. The default port is filled in before keying so "host" and "host:22"
// don't create two entries.
func (r *Registry) AddOrUpdate(p Profile) (Key, error) {
	if err := Validate(p); err != nil {
		return Key{}, err
	}
	if p.Port == "" {
		p.Port = "22"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.Key()
	r.profiles[key] = p
	k := key
	r.lastConfigured = &k
	return key, nil
}

// LastConfigured returns the key of the most recently stored profile.
func (r *Registry) LastConfigured() (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastConfigured == nil {
		return Key{}, false
	}
	return *r.lastConfigured, true
}

// Get returns the profile for a key.
func (r *Registry) Get(key Key) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[key]
	return p, ok
}

// Remove deletes a profile. Removing the active profile clears the active
// marker.
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[key]; !ok {
		return false
	}
	delete(r.profiles, key)
	if r.active != nil && *r.active == key {
		r.active = nil
	}
	if r.lastConfigured != nil && *r.lastConfigured == key {
		r.lastConfigured = nil
	}
	return true
}

// SetActive marks a stored profile as the active one and stamps its
// last-used time.
func (r *Registry) SetActive(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[key]
	if !ok {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("No profile for %s", key),
			"Configure the connection first")
	}

	p.LastUsed = time.Now()
	r.profiles[key] = p
	k := key
	r.active = &k
	return nil
}

// ClearActive removes the active marker. Profiles are kept.
func (r *Registry) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
}

// Active returns the active profile, if any.
func (r *Registry) Active() (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == nil {
		return Profile{}, false
	}
	p, ok := r.profiles[*r.active]
	return p, ok
}

// List returns redacted views of all profiles, sorted by key for stable
// output.
func (r *Registry) List() []Redacted {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Redacted, 0, len(r.profiles))
	for key, p := range r.profiles {
		out = append(out, Redacted{
			Hostname:    p.Hostname,
			Port:        p.Port,
			Username:    p.Username,
			HasPassword: p.Password != "",
			HasKey:      p.IdentityFile != "",
			Active:      r.active != nil && *r.active == key,
			LastUsed:    p.LastUsed,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hostname != out[j].Hostname {
			return out[i].Hostname < out[j].Hostname
		}
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Username < out[j].Username
	})
	return out
}
