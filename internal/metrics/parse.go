package metrics

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/hostbeat/hostbeat/internal/errors"
)

// cpuJiffies holds total and idle jiffy counters from /proc/stat for
// delta-based CPU usage calculation between ticks.
type cpuJiffies struct {
	total int64
	idle  int64
}

// parseProcStat extracts aggregate jiffy counters from /proc/stat output.
func parseProcStat(output string) (cpuJiffies, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			return cpuJiffies{}, errors.New(errors.ErrParse,
				"Invalid /proc/stat cpu line",
				"Verify the remote host exposes a Linux-style /proc/stat")
		}

		var j cpuJiffies
		for i := 1; i < len(fields); i++ {
			val, err := strconv.ParseInt(fields[i], 10, 64)
			if err != nil {
				return cpuJiffies{}, errors.WrapWithCode(err, errors.ErrParse,
					fmt.Sprintf("Failed to parse /proc/stat field %d", i), "")
			}
			j.total += val
			// Fields 4 and 5 are idle and iowait.
			if i == 4 || i == 5 {
				j.idle += val
			}
		}
		return j, nil
	}

	return cpuJiffies{}, errors.New(errors.ErrParse,
		"No cpu line in /proc/stat output",
		"Verify the remote host exposes a Linux-style /proc/stat")
}

// cpuPercentFromJiffies computes CPU usage from two jiffy readings.
// When no previous reading exists the absolute counters are used, which
// reflects usage since boot rather than since the last tick.
func cpuPercentFromJiffies(prev, cur cpuJiffies) float64 {
	totalDelta := cur.total - prev.total
	idleDelta := cur.idle - prev.idle
	if totalDelta <= 0 {
		return 0
	}
	return clampPercent(float64(totalDelta-idleDelta) / float64(totalDelta) * 100)
}

// parseLoadAvg extracts the 1/5/15-minute load averages from /proc/loadavg.
func parseLoadAvg(output string) ([3]float64, error) {
	var load [3]float64
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) < 3 {
		return load, errors.New(errors.ErrParse,
			"Unexpected /proc/loadavg format", "")
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return load, errors.WrapWithCode(err, errors.ErrParse,
				"Failed to parse load average", "")
		}
		load[i] = v
	}
	return load, nil
}

// parseFreeMem extracts memory totals from the Mem: line of `free -b`.
func parseFreeMem(output string) (Memory, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	// Mem: total used free shared buff/cache available
	if len(fields) < 3 {
		return Memory{}, errors.New(errors.ErrParse,
			"Unexpected free output",
			"Check that `free` is available on the remote host")
	}

	total, err1 := strconv.ParseUint(fields[1], 10, 64)
	used, err2 := strconv.ParseUint(fields[2], 10, 64)
	if err1 != nil || err2 != nil {
		return Memory{}, errors.New(errors.ErrParse,
			"Failed to parse free output", "")
	}

	mem := Memory{TotalBytes: total, UsedBytes: used}
	if total > 0 {
		mem.Percent = clampPercent(float64(used) / float64(total) * 100)
	}
	return mem, nil
}

// parseDiskUsage extracts the root filesystem usage percent from `df -P /`.
func parseDiskUsage(output string) (float64, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	// Filesystem 1024-blocks Used Available Capacity Mounted on
	if len(fields) < 5 {
		return 0, errors.New(errors.ErrParse, "Unexpected df output", "")
	}
	pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrParse,
			"Failed to parse df capacity column", "")
	}
	return clampPercent(pct), nil
}

// parseNetDev extracts cumulative rx/tx byte counters per interface from
// /proc/net/dev output.
func parseNetDev(output string) (map[string]InterfaceTraffic, error) {
	traffic := make(map[string]InterfaceTraffic)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue // header lines
		}

		name := strings.TrimSpace(line[:colon])
		fields := strings.Fields(line[colon+1:])
		if name == "" || len(fields) < 9 {
			continue
		}

		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		traffic[name] = InterfaceTraffic{RxBytes: rx, TxBytes: tx}
	}

	if len(traffic) == 0 {
		return nil, errors.New(errors.ErrParse,
			"No interfaces found in /proc/net/dev output", "")
	}
	return traffic, nil
}

// parseConnectionCount extracts the TCP connection count from `ss -t | wc -l`.
// The count includes one header line, which is subtracted.
func parseConnectionCount(output string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrParse,
			"Failed to parse connection count", "")
	}
	if n > 0 {
		n--
	}
	return n, nil
}

// parseProcesses extracts the process table from `ps aux` output.
// The memory column is %MEM: percent of total host memory.
func parseProcesses(output string) ([]Process, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 1 {
		return nil, errors.New(errors.ErrParse, "Empty ps output", "")
	}

	var procs []Process
	for _, line := range lines {
		fields := strings.Fields(line)
		// USER PID %CPU %MEM VSZ RSS TTY STAT START TIME COMMAND
		if len(fields) < 11 {
			continue
		}
		if fields[0] == "USER" {
			continue // header
		}

		pid, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			continue
		}
		cpuPct, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		memPct, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			continue
		}

		procs = append(procs, Process{
			PID:        int32(pid),
			User:       fields[0],
			Name:       truncateCommand(strings.Join(fields[10:], " ")),
			CPUPercent: clampPercent(cpuPct),
			Memory:     memPct,
			Status:     fields[7],
		})
		if len(procs) >= MaxProcesses {
			break
		}
	}

	if len(procs) == 0 {
		return nil, errors.New(errors.ErrParse,
			"No process rows in ps output",
			"Check that `ps aux` works on the remote host")
	}
	return procs, nil
}

// parseUptime extracts whole seconds of uptime from /proc/uptime.
func parseUptime(output string) (uint64, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) < 1 {
		return 0, errors.New(errors.ErrParse, "Empty /proc/uptime output", "")
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || secs < 0 {
		return 0, errors.New(errors.ErrParse,
			"Failed to parse /proc/uptime", "")
	}
	return uint64(secs), nil
}

// parseServiceStatus maps "name state" lines from the service check loop to
// normalized states. Unexpected lines degrade to unknown instead of failing
// the whole snapshot.
func parseServiceStatus(output string) map[string]ServiceState {
	status := make(map[string]ServiceState)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		switch fields[1] {
		case "active", "running":
			status[name] = ServiceRunning
		case "inactive", "failed", "dead":
			status[name] = ServiceStopped
		default:
			status[name] = ServiceUnknown
		}
	}
	return status
}

// commandNameLimit bounds process command strings carried in snapshots.
const commandNameLimit = 50

func truncateCommand(cmd string) string {
	if len(cmd) > commandNameLimit {
		return cmd[:commandNameLimit]
	}
	return cmd
}
