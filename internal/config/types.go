package config

import (
	"time"

	"github.com/hostbeat/hostbeat/internal/metrics"
	"github.com/hostbeat/hostbeat/internal/registry"
	"github.com/hostbeat/hostbeat/pkg/sshutil"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete .hostbeat.yaml configuration file.
type Config struct {
	Version   int             `yaml:"version" mapstructure:"version"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	SSH       SSHConfig       `yaml:"ssh" mapstructure:"ssh"`

	// Services are process names checked for up/down status in every
	// snapshot. Empty means the built-in default list.
	Services []string `yaml:"services" mapstructure:"services"`

	// Hosts are named remote profiles preloaded into the registry.
	Hosts map[string]Host `yaml:"hosts" mapstructure:"hosts"`

	// Default names the host to connect to on startup. Empty means
	// start in local mode.
	Default string `yaml:"default" mapstructure:"default"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	// Host is the bind address. Defaults to loopback; set 0.0.0.0 to
	// expose the dashboard on the network.
	Host string `yaml:"host" mapstructure:"host"`

	// Port is the listen port.
	Port int `yaml:"port" mapstructure:"port"`
}

// SchedulerConfig controls periodic collection.
type SchedulerConfig struct {
	// Interval between collections. Clamped to 1s-60s at runtime.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// Autostart begins collecting as soon as 'hostbeat serve' comes up,
	// instead of waiting for the first realtime subscriber.
	Autostart bool `yaml:"autostart" mapstructure:"autostart"`
}

// MarshalYAML renders the interval as a duration string ("5s") instead of
// raw nanoseconds, so generated config files stay human-editable.
func (s SchedulerConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Interval  string `yaml:"interval"`
		Autostart bool   `yaml:"autostart"`
	}{s.Interval.String(), s.Autostart}, nil
}

// SSHConfig holds connection defaults applied to every remote profile.
type SSHConfig struct {
	// ConnectTimeout bounds the TCP dial and handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// StrictHostKeyChecking verifies remote host keys against
	// ~/.ssh/known_hosts instead of accepting them on first use.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
}

// MarshalYAML renders the timeout as a duration string, matching what the
// loader accepts.
func (s SSHConfig) MarshalYAML() (interface{}, error) {
	return struct {
		ConnectTimeout        string `yaml:"connect_timeout"`
		StrictHostKeyChecking bool   `yaml:"strict_host_key_checking"`
	}{s.ConnectTimeout.String(), s.StrictHostKeyChecking}, nil
}

// Host defines a remote machine profile.
type Host struct {
	// Hostname to connect to. May be an SSH config alias; missing
	// fields are resolved from ~/.ssh/config.
	Hostname string `yaml:"hostname" mapstructure:"hostname"`

	// Port is the SSH port as a string. Defaults to "22".
	Port string `yaml:"port" mapstructure:"port"`

	// Username for the SSH login. Defaults to the current user.
	Username string `yaml:"username" mapstructure:"username"`

	// IdentityFile is a path to a private key. Supports ~ expansion.
	IdentityFile string `yaml:"identity_file" mapstructure:"identity_file"`

	// Services overrides the global service list for this host.
	Services []string `yaml:"services" mapstructure:"services"`
}

// Profile converts a named host entry into a registry profile. Unset
// fields are resolved from ~/.ssh/config and process defaults so aliases
// like "Host db" work the same as they do for plain ssh.
func (h Host) Profile(services []string) registry.Profile {
	svcs := h.Services
	if len(svcs) == 0 {
		svcs = services
	}

	settings := sshutil.Settings{
		Hostname:     h.Hostname,
		Port:         h.Port,
		Username:     h.Username,
		IdentityFile: h.IdentityFile,
	}
	settings.Resolve()

	return registry.Profile{
		Hostname:     settings.Hostname,
		Port:         settings.Port,
		Username:     settings.Username,
		IdentityFile: settings.IdentityFile,
		Services:     svcs,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Scheduler: SchedulerConfig{
			Interval:  5 * time.Second,
			Autostart: false,
		},
		SSH: SSHConfig{
			ConnectTimeout:        10 * time.Second,
			StrictHostKeyChecking: false,
		},
		Services: append([]string(nil), metrics.DefaultServices...),
		Hosts:    make(map[string]Host),
	}
}
