package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hostbeat/hostbeat/internal/errors"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but hostbeat only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Grab the latest hostbeat release")
	}

	if err := validateServer(cfg.Server); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Check the 'server' section in your "+ConfigFileName+".")
	}

	if err := validateScheduler(cfg.Scheduler); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Check the 'scheduler' section in your "+ConfigFileName+".")
	}

	if err := validateSSH(cfg.SSH); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Check the 'ssh' section in your "+ConfigFileName+".")
	}

	for _, svc := range cfg.Services {
		if strings.TrimSpace(svc) == "" {
			return errors.New(errors.ErrConfig,
				"services has an empty entry",
				"Remove it or add a service name like 'nginx'.")
		}
	}

	for name, host := range cfg.Hosts {
		if err := validateHost(name, host); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
				"Check your host config in "+ConfigFileName+".")
		}
	}

	if cfg.Default != "" {
		if _, ok := cfg.Hosts[cfg.Default]; !ok {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Default host '%s' doesn't exist", cfg.Default),
				fmt.Sprintf("Did you rename or remove it? Available hosts: %s", strings.Join(hostNames(cfg.Hosts), ", ")))
		}
	}

	return nil
}

func validateServer(s ServerConfig) error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range - use 1-65535", s.Port)
	}
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("server.host can't be empty - use 127.0.0.1 or 0.0.0.0")
	}
	return nil
}

func validateScheduler(s SchedulerConfig) error {
	if s.Interval < 0 {
		return fmt.Errorf("scheduler.interval can't be negative")
	}
	if s.Interval != 0 && s.Interval < time.Second {
		return fmt.Errorf("scheduler.interval %v is too short - the minimum is 1s", s.Interval)
	}
	if s.Interval > time.Minute {
		return fmt.Errorf("scheduler.interval %v is too long - the maximum is 1m", s.Interval)
	}
	return nil
}

func validateSSH(s SSHConfig) error {
	if s.ConnectTimeout < 0 {
		return fmt.Errorf("ssh.connect_timeout can't be negative")
	}
	return nil
}

// validateHost checks a single host profile.
func validateHost(name string, host Host) error {
	if strings.TrimSpace(host.Hostname) == "" {
		return fmt.Errorf("host '%s' needs a 'hostname' - that's the machine to monitor", name)
	}
	if strings.Contains(host.Hostname, "@") {
		return fmt.Errorf("host '%s' hostname '%s' looks like an SSH string - put the user in 'username'", name, host.Hostname)
	}
	if host.Port != "" {
		port, err := strconv.Atoi(host.Port)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("host '%s' port '%s' isn't valid - use a number between 1 and 65535", name, host.Port)
		}
	}
	for _, svc := range host.Services {
		if strings.TrimSpace(svc) == "" {
			return fmt.Errorf("host '%s' services has an empty entry", name)
		}
	}
	return nil
}

// hostNames returns a sorted list of host names.
func hostNames(hosts map[string]Host) []string {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
