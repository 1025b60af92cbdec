package metrics

import (
	"context"
	"time"
)

// Origin identifies where a snapshot was collected.
type Origin string

const (
	// OriginLocal marks snapshots collected from the local OS.
	OriginLocal Origin = "local"
	// OriginRemote marks snapshots collected over an SSH session.
	OriginRemote Origin = "remote"
)

// MemUnit identifies the unit of the per-process memory field.
// Local collection reports resident MB; remote collection reports percent of
// total host memory. The tag is explicit so consumers never have to guess
// from the value's magnitude.
type MemUnit string

const (
	// MemUnitMB means Process.Memory is resident set size in megabytes.
	MemUnitMB MemUnit = "mb"
	// MemUnitPercent means Process.Memory is percent of total host memory.
	MemUnitPercent MemUnit = "percent"
)

// ConnectionStatus describes the collection path a snapshot came through.
type ConnectionStatus string

const (
	// StatusLocal means the snapshot was read from the local OS.
	StatusLocal ConnectionStatus = "local"
	// StatusConnected means the snapshot came from a live remote session.
	StatusConnected ConnectionStatus = "connected"
	// StatusError means collection failed and the snapshot carries
	// last-known or zeroed values.
	StatusError ConnectionStatus = "error"
)

// ServiceState is the observed state of a monitored service.
type ServiceState string

const (
	ServiceRunning ServiceState = "running"
	ServiceStopped ServiceState = "stopped"
	ServiceUnknown ServiceState = "unknown"
)

// MaxProcesses caps the process list carried in a snapshot.
const MaxProcesses = 50

// Snapshot is one normalized point-in-time measurement of system metrics.
// It is immutable once produced; every collection cycle yields a fresh value.
type Snapshot struct {
	CPUPercent    float64                 `json:"cpu_percent"`
	Memory        Memory                  `json:"memory"`
	DiskPercent   float64                 `json:"disk_percent"`
	LoadAverage   [3]float64              `json:"load_average"`
	Network       Network                 `json:"network"`
	Processes     []Process               `json:"processes"`
	ServiceStatus map[string]ServiceState `json:"service_status"`
	UptimeSeconds uint64                  `json:"uptime_seconds"`
	Timestamp     time.Time               `json:"timestamp"`

	// Source and MemUnit are stamped by the producing source so consumers
	// can rescale process memory without magnitude heuristics.
	Source  Origin  `json:"source"`
	MemUnit MemUnit `json:"mem_unit"`

	// Hostname is the remote host the snapshot was collected from,
	// empty for local snapshots.
	Hostname string `json:"hostname,omitempty"`

	ConnectionStatus ConnectionStatus `json:"connection_status"`
}

// Memory holds host memory usage.
type Memory struct {
	TotalBytes uint64  `json:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	Percent    float64 `json:"percent"`
}

// Network holds connection counts and per-interface traffic totals.
type Network struct {
	Connections int                         `json:"connections"`
	Traffic     map[string]InterfaceTraffic `json:"traffic_by_interface"`
}

// InterfaceTraffic holds cumulative byte counters for one interface.
type InterfaceTraffic struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

// Process is one row of the process table, ordered by CPU descending.
// The unit of Memory depends on the snapshot's MemUnit tag.
type Process struct {
	PID        int32   `json:"pid"`
	User       string  `json:"user"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
	Memory     float64 `json:"memory"`
	Status     string  `json:"status"`
}

// Source produces snapshots from a local or remote origin.
// Collect must honor context cancellation and return a structured error
// (never panic past the scheduler) on failure.
type Source interface {
	Collect(ctx context.Context) (*Snapshot, error)
}

// Executor runs an ordered batch of shell commands on a remote host in a
// single round trip, returning each command's output keyed by the command.
// Implemented by session.Session.
type Executor interface {
	Execute(ctx context.Context, commands []string) (map[string]string, error)
}

// clampPercent bounds a percentage to [0, 100].
func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SourceInfo names the currently active source so degraded snapshots carry
// the right attribution even before any collection has succeeded.
type SourceInfo struct {
	Origin   Origin
	MemUnit  MemUnit
	Hostname string
}

// LocalSourceInfo is the attribution for local collection.
func LocalSourceInfo() SourceInfo {
	return SourceInfo{Origin: OriginLocal, MemUnit: MemUnitMB}
}

// ErrorSnapshot derives a degraded snapshot from the last known good one.
// Numeric fields carry the previous values so dashboards don't blank out;
// the status tag makes the staleness visible. A nil last yields zero values.
// Source, MemUnit, and Hostname always come from info, never from last,
// so a failure right after a switch isn't attributed to the old source.
func ErrorSnapshot(last *Snapshot, info SourceInfo) *Snapshot {
	s := &Snapshot{}
	if last != nil {
		copied := *last
		s = &copied
	}
	if info.Origin == "" {
		info = LocalSourceInfo()
	}
	s.Source = info.Origin
	s.MemUnit = info.MemUnit
	s.Hostname = info.Hostname
	s.Timestamp = time.Now()
	s.ConnectionStatus = StatusError
	return s
}
