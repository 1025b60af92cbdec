package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceStateFromSystemctl(t *testing.T) {
	tests := []struct {
		output string
		want   ServiceState
		ok     bool
	}{
		{"active\n", ServiceRunning, true},
		{"activating", ServiceRunning, true},
		{"reloading", ServiceRunning, true},
		{"inactive\n", ServiceStopped, true},
		{"failed", ServiceStopped, true},
		{"deactivating", ServiceStopped, true},
		{"unknown", ServiceUnknown, false},
		{"", ServiceUnknown, false},
		{"some garbage", ServiceUnknown, false},
	}

	for _, tt := range tests {
		state, ok := serviceStateFromSystemctl(tt.output)
		assert.Equal(t, tt.want, state, "output %q", tt.output)
		assert.Equal(t, tt.ok, ok, "output %q", tt.output)
	}
}

func TestServiceStatusFromProcesses(t *testing.T) {
	procs := []Process{
		{Name: "sshd"},
		{Name: "nginx: worker"},
	}

	status := serviceStatusFromProcesses([]string{"ssh", "nginx", "postgres"}, procs)
	assert.Equal(t, ServiceRunning, status["ssh"])
	assert.Equal(t, ServiceRunning, status["nginx"])
	assert.Equal(t, ServiceUnknown, status["postgres"])
}
