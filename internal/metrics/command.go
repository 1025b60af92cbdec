package metrics

import (
	"fmt"
	"strings"
)

// Remote metric-gathering commands. Each runs in the single batched round
// trip issued per collection tick; outputs come back keyed by command.
const (
	cmdCPUStat     = "cat /proc/stat"
	cmdLoadAvg     = "cat /proc/loadavg"
	cmdMemInfo     = "free -b | grep -i '^mem'"
	cmdDiskUsage   = "df -P / | tail -1"
	cmdNetDev      = "cat /proc/net/dev"
	cmdConnections = "ss -t | wc -l"
	cmdProcesses   = "ps aux --sort=-%cpu | head -11"
	cmdUptime      = "cat /proc/uptime"
)

// DefaultServices is the service list checked when none is configured.
var DefaultServices = []string{
	"ssh", "nginx", "mysql", "apache2", "postgresql",
	"redis", "mongodb", "docker", "cron", "systemd",
}

// RemoteCommands returns the ordered command batch for one remote collection
// tick. The service check command varies with the configured service list;
// everything else is fixed.
func RemoteCommands(services []string) []string {
	return []string{
		cmdCPUStat,
		cmdLoadAvg,
		cmdMemInfo,
		cmdDiskUsage,
		cmdNetDev,
		cmdConnections,
		cmdProcesses,
		cmdUptime,
		serviceCommand(services),
	}
}

// serviceCommand builds one shell loop that reports "name state" per line.
// systemctl is-active prints the state but exits non-zero for anything not
// active, so the status is captured rather than relying on exit codes.
func serviceCommand(services []string) string {
	if len(services) == 0 {
		services = DefaultServices
	}
	quoted := make([]string, len(services))
	for i, s := range services {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf(
		`for s in %s; do st=$(systemctl is-active "$s" 2>/dev/null); echo "$s ${st:-unknown}"; done`,
		strings.Join(quoted, " "))
}
