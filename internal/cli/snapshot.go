package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hostbeat/hostbeat/internal/config"
	"github.com/hostbeat/hostbeat/internal/errors"
	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/metrics"
)

const defaultSnapshotTimeout = 15 * time.Second

// snapshotCommand collects one snapshot and prints it to stdout as JSON.
func snapshotCommand(remote string, askPass bool, timeout string) error {
	cfg, err := config.LoadOrDefault(Config())
	if err != nil {
		return err
	}

	wait := defaultSnapshotTimeout
	if timeout != "" {
		wait, err = time.ParseDuration(timeout)
		if err != nil {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Invalid timeout %q", timeout),
				"Use a duration like 15s or 1m")
		}
	}

	svc := buildService(cfg, logger.NewEnvLogger("hostbeat"))
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	var snap *metrics.Snapshot
	if remote == "" {
		snap, err = svc.LocalSnapshot(ctx)
	} else {
		if err := connectTarget(svc, cfg, remote, askPass); err != nil {
			return err
		}
		snap, err = svc.RemoteSnapshot(ctx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
