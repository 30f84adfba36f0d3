package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"ringflex/calibration"
	"ringflex/devicestate"
)

func TestRunRejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-rate", "0"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "osc.rate")
	assert.Empty(t, stdout.String())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Connecting", describe(devicestate.Snapshot{State: devicestate.Connecting}))
	assert.Equal(t, "Disconnected: no Joy-Con R found",
		describe(devicestate.Snapshot{State: devicestate.Disconnected, Reason: "no Joy-Con R found"}))

	s := devicestate.Snapshot{
		State:      devicestate.ConnectedWithAccessory,
		Profile:    calibration.NewProfile(calibration.DefaultDefaults),
		HasProfile: true,
		Reason:     "stale",
	}
	assert.Equal(t, "Ring-Con active (center 15, range 7-23)", describe(s))
}

func TestEveryStateHasAColor(t *testing.T) {
	for s := devicestate.Disconnected; s <= devicestate.Faulted; s++ {
		_, ok := statusColors[s]
		assert.True(t, ok, s.String())
		assert.NotEmpty(t, stateLabel(s))
	}
}
