package metrics

import (
	"context"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hostbeat/hostbeat/internal/errors"
)

// LocalSource collects snapshots from the local OS via gopsutil.
// Reads are bounded syscalls with no network I/O; per-metric failures on
// exotic platforms degrade to zero values rather than failing the snapshot,
// matching how the local path has no remote round trip to go wrong.
//
// Process memory is reported as resident MB, so local snapshots carry
// MemUnit=mb.
type LocalSource struct {
	services []string
}

// NewLocalSource creates a local metrics source checking the given services.
func NewLocalSource(services []string) *LocalSource {
	if len(services) == 0 {
		services = DefaultServices
	}
	return &LocalSource{services: services}
}

// Collect gathers one local snapshot.
func (l *LocalSource) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Timestamp:        time.Now(),
		Source:           OriginLocal,
		MemUnit:          MemUnitMB,
		ConnectionStatus: StatusLocal,
		Network:          Network{Traffic: make(map[string]InterfaceTraffic)},
		ServiceStatus:    make(map[string]ServiceState),
	}

	// Non-blocking CPU read: percentage since the previous call.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = clampPercent(pct[0])
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCollect,
			"Failed to read local memory stats", "")
	}
	snap.Memory = Memory{
		TotalBytes: vm.Total,
		UsedBytes:  vm.Used,
		Percent:    clampPercent(vm.UsedPercent),
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.DiskPercent = clampPercent(du.UsedPercent)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAverage = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	if conns, err := net.ConnectionsWithContext(ctx, "tcp"); err == nil {
		snap.Network.Connections = len(conns)
	}
	if counters, err := net.IOCountersWithContext(ctx, true); err == nil {
		for _, c := range counters {
			snap.Network.Traffic[c.Name] = InterfaceTraffic{
				RxBytes: c.BytesRecv,
				TxBytes: c.BytesSent,
			}
		}
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.UptimeSeconds = up
	}

	procs := l.collectProcesses(ctx)
	snap.ServiceStatus = l.serviceStatus(ctx, procs)
	if len(procs) > MaxProcesses {
		procs = procs[:MaxProcesses]
	}
	snap.Processes = procs

	return snap, nil
}

// collectProcesses builds the full process table sorted by CPU descending.
// Processes that vanish mid-iteration or deny access are skipped silently.
func (l *LocalSource) collectProcesses(ctx context.Context) []Process {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}

		cpuPct, err := p.CPUPercentWithContext(ctx)
		if err != nil || cpuPct < 0 || cpuPct > 100 {
			continue
		}

		var memMB float64
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			memMB = float64(mi.RSS) / (1024 * 1024)
		}

		user, _ := p.UsernameWithContext(ctx)
		status := ""
		if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 {
			status = st[0]
		}

		out = append(out, Process{
			PID:        p.Pid,
			User:       user,
			Name:       truncateCommand(name),
			CPUPercent: cpuPct,
			Memory:     memMB,
			Status:     status,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CPUPercent > out[j].CPUPercent
	})
	return out
}

// serviceStatus asks systemctl is-active per service, which distinguishes
// stopped from unknown. Hosts without systemd, and units systemctl can't
// place, fall back to matching against the process table.
func (l *LocalSource) serviceStatus(ctx context.Context, procs []Process) map[string]ServiceState {
	systemctl, err := exec.LookPath("systemctl")
	if err != nil {
		return serviceStatusFromProcesses(l.services, procs)
	}

	fallback := serviceStatusFromProcesses(l.services, procs)
	status := make(map[string]ServiceState, len(l.services))
	for _, svc := range l.services {
		// is-active exits non-zero for anything not active but still
		// prints the state, so only the output matters here.
		out, _ := exec.CommandContext(ctx, systemctl, "is-active", svc).Output()
		if state, ok := serviceStateFromSystemctl(string(out)); ok {
			status[svc] = state
			continue
		}
		status[svc] = fallback[svc]
	}
	return status
}

// serviceStateFromSystemctl maps `systemctl is-active` output to a state.
// ok is false for output naming no definite state, such as "unknown" on
// hosts where the unit doesn't exist.
func serviceStateFromSystemctl(output string) (ServiceState, bool) {
	switch strings.TrimSpace(output) {
	case "active", "activating", "reloading":
		return ServiceRunning, true
	case "inactive", "failed", "deactivating":
		return ServiceStopped, true
	}
	return ServiceUnknown, false
}

// serviceStatusFromProcesses derives service states from the process table.
// A service whose name prefixes a running process name (ssh matches sshd)
// is reported running; anything else stays unknown since the process table
// alone can't distinguish stopped from renamed.
func serviceStatusFromProcesses(services []string, procs []Process) map[string]ServiceState {
	status := make(map[string]ServiceState, len(services))
	for _, svc := range services {
		status[svc] = ServiceUnknown
		for _, p := range procs {
			if strings.HasPrefix(p.Name, svc) {
				status[svc] = ServiceRunning
				break
			}
		}
	}
	return status
}
