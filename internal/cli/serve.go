package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hostbeat/hostbeat/internal/config"
	"github.com/hostbeat/hostbeat/internal/errors"
	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/monitor"
	"github.com/hostbeat/hostbeat/internal/registry"
	"github.com/hostbeat/hostbeat/internal/server"
	"github.com/hostbeat/hostbeat/internal/session"
	"github.com/hostbeat/hostbeat/pkg/sshutil"
)

const shutdownTimeout = 5 * time.Second

// serveCommand runs the monitoring service behind the HTTP server until a
// termination signal arrives.
func serveCommand(host string, port int, interval string, autostart bool) error {
	cfg, err := config.LoadOrDefault(Config())
	if err != nil {
		return err
	}

	// Flags override the config file.
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Invalid interval %q", interval),
				"Use a duration like 2s or 500ms")
		}
		cfg.Scheduler.Interval = d
	}
	if autostart {
		cfg.Scheduler.Autostart = true
	}

	log := logger.NewEnvLogger("hostbeat")
	svc := buildService(cfg, log)
	defer svc.Close()

	keys := preloadHosts(svc, cfg, log)

	if cfg.Default != "" {
		key, ok := keys[cfg.Default]
		if !ok {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Default host %q is not defined", cfg.Default),
				"Add it to the 'hosts' section of your config")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SSH.ConnectTimeout)
		err := svc.Connect(ctx, key)
		cancel()
		if err != nil {
			log.Warn("could not connect to default host %s: %v", cfg.Default, err)
			log.Warn("monitoring local host until a connection succeeds")
		}
	}

	if cfg.Scheduler.Autostart {
		svc.Scheduler().Start(cfg.Scheduler.Interval)
	}

	srv := server.New(svc, server.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: GetVersion(),
	}, log)
	if err := srv.Start(); err != nil {
		return err
	}

	fmt.Printf("hostbeat %s serving on http://%s\n", GetVersion(), srv.Addr())
	if cfg.Scheduler.Autostart {
		fmt.Printf("collecting every %s\n", cfg.Scheduler.Interval)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nshutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildService assembles a monitor service from loaded configuration.
func buildService(cfg *config.Config, log logger.Logger) *monitor.Service {
	sshutil.StrictHostKeyChecking = cfg.SSH.StrictHostKeyChecking

	factory := func() *session.Session {
		return session.New(
			session.WithTimeout(cfg.SSH.ConnectTimeout),
			session.WithLogger(log),
		)
	}

	return monitor.NewService(
		monitor.WithServices(cfg.Services),
		monitor.WithSessionFactory(factory),
		monitor.WithServiceLogger(log),
	)
}

// preloadHosts stores every configured host profile so clients can connect
// by name without re-sending credentials. Invalid entries are skipped with
// a warning rather than aborting startup.
func preloadHosts(svc *monitor.Service, cfg *config.Config, log logger.Logger) map[string]registry.Key {
	keys := make(map[string]registry.Key, len(cfg.Hosts))
	for name, host := range cfg.Hosts {
		key, err := svc.Configure(host.Profile(cfg.Services))
		if err != nil {
			log.Warn("skipping host %s: %v", name, err)
			continue
		}
		keys[name] = key
	}
	return keys
}
