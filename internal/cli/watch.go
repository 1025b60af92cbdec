package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/hostbeat/hostbeat/internal/config"
	"github.com/hostbeat/hostbeat/internal/errors"
	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/monitor"
	"github.com/hostbeat/hostbeat/internal/registry"
	"github.com/hostbeat/hostbeat/internal/watch"
	"github.com/hostbeat/hostbeat/pkg/sshutil"
)

// watchCommand runs the terminal dashboard against the local host or a
// remote target.
func watchCommand(remote, interval string, askPass bool) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New(errors.ErrExec,
			"watch needs an interactive terminal",
			"Use 'hostbeat snapshot' for scripted output")
	}

	cfg, err := config.LoadOrDefault(Config())
	if err != nil {
		return err
	}

	refresh := cfg.Scheduler.Interval
	if interval != "" {
		refresh, err = time.ParseDuration(interval)
		if err != nil {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Invalid interval %q", interval),
				"Use a duration like 2s or 500ms")
		}
	}

	// The dashboard owns the screen, so logs go nowhere.
	svc := buildService(cfg, logger.Noop())
	defer svc.Close()

	if err := connectTarget(svc, cfg, remote, askPass); err != nil {
		return err
	}

	return watch.Run(svc, refresh)
}

// connectTarget connects the service to the requested remote, the config
// default, or leaves it in local mode.
func connectTarget(svc *monitor.Service, cfg *config.Config, remote string, askPass bool) error {
	var profile registry.Profile

	switch {
	case remote != "":
		settings := sshutil.ParseHost(remote)
		settings.Resolve()
		profile = registry.Profile{
			Hostname:     settings.Hostname,
			Port:         settings.Port,
			Username:     settings.Username,
			IdentityFile: settings.IdentityFile,
			Services:     cfg.Services,
		}
	case cfg.Default != "":
		host, ok := cfg.Hosts[cfg.Default]
		if !ok {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Default host %q is not defined", cfg.Default),
				"Add it to the 'hosts' section of your config")
		}
		profile = host.Profile(cfg.Services)
	default:
		return nil
	}

	if askPass {
		password, err := promptPassword(profile.Username + "@" + profile.Hostname)
		if err != nil {
			return err
		}
		profile.Password = password
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SSH.ConnectTimeout)
	defer cancel()
	if _, err := svc.Switch(ctx, profile); err != nil {
		return err
	}
	return nil
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(target string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New(errors.ErrConfig,
			"Cannot prompt for a password without a terminal",
			"Use an identity file instead of --ask-pass")
	}

	fmt.Fprintf(os.Stderr, "%s password: ", target)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Could not read password",
			"Try again or use an identity file")
	}
	return string(password), nil
}
