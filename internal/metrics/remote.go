package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/hostbeat/hostbeat/internal/errors"
)

// RemoteSource collects snapshots from a remote host by running one batched
// command round trip per tick over an Executor (a connected remote session)
// and parsing the text output into the normalized Snapshot shape.
//
// Process memory figures arrive as percentages, so remote snapshots carry
// MemUnit=percent.
type RemoteSource struct {
	exec     Executor
	hostname string
	services []string

	mu   sync.Mutex
	prev cpuJiffies // previous tick's counters for CPU delta
}

// NewRemoteSource creates a source that collects from the given executor.
// hostname is stamped on every snapshot for switch-atomicity accounting.
func NewRemoteSource(exec Executor, hostname string, services []string) *RemoteSource {
	if len(services) == 0 {
		services = DefaultServices
	}
	return &RemoteSource{
		exec:     exec,
		hostname: hostname,
		services: services,
	}
}

// Hostname returns the remote host this source collects from.
func (r *RemoteSource) Hostname() string {
	return r.hostname
}

// Collect runs the metric command batch and parses the result.
// Execution errors pass through with their CONNECT/EXEC codes; output that
// doesn't match the expected shape returns a PARSE error rather than a
// silently zeroed snapshot.
func (r *RemoteSource) Collect(ctx context.Context) (*Snapshot, error) {
	commands := RemoteCommands(r.services)

	outputs, err := r.exec.Execute(ctx, commands)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Timestamp:        time.Now(),
		Source:           OriginRemote,
		MemUnit:          MemUnitPercent,
		Hostname:         r.hostname,
		ConnectionStatus: StatusConnected,
	}

	jiffies, err := parseProcStat(outputs[cmdCPUStat])
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	snap.CPUPercent = cpuPercentFromJiffies(r.prev, jiffies)
	r.prev = jiffies
	r.mu.Unlock()

	if snap.LoadAverage, err = parseLoadAvg(outputs[cmdLoadAvg]); err != nil {
		return nil, err
	}
	if snap.Memory, err = parseFreeMem(outputs[cmdMemInfo]); err != nil {
		return nil, err
	}
	if snap.DiskPercent, err = parseDiskUsage(outputs[cmdDiskUsage]); err != nil {
		return nil, err
	}

	traffic, err := parseNetDev(outputs[cmdNetDev])
	if err != nil {
		return nil, err
	}
	conns, err := parseConnectionCount(outputs[cmdConnections])
	if err != nil {
		return nil, err
	}
	snap.Network = Network{Connections: conns, Traffic: traffic}

	if snap.Processes, err = parseProcesses(outputs[cmdProcesses]); err != nil {
		return nil, err
	}
	if snap.UptimeSeconds, err = parseUptime(outputs[cmdUptime]); err != nil {
		return nil, err
	}

	// The service loop is the last command in the batch.
	snap.ServiceStatus = parseServiceStatus(outputs[commands[len(commands)-1]])

	if snap.CPUPercent < 0 || snap.CPUPercent > 100 {
		return nil, errors.New(errors.ErrParse,
			"CPU percent out of range", "")
	}
	return snap, nil
}
