package devicestate

import (
	"time"

	"ringflex/calibration"
)

// State is the connection state of the controller and its accessory.
type State int

const (
	Disconnected State = iota
	Connecting
	ConnectedNoAccessory
	ConnectedWithAccessory
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case ConnectedNoAccessory:
		return "ConnectedNoAccessory"
	case ConnectedWithAccessory:
		return "ConnectedWithAccessory"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Connected reports whether a link is up, with or without accessory.
func (s State) Connected() bool {
	return s == ConnectedNoAccessory || s == ConnectedWithAccessory
}

// Snapshot is the read-only view of the machine published after every
// change. Value is meaningful only when HasValue is set.
type Snapshot struct {
	State      State
	Value      float32
	HasValue   bool
	Stretch    uint8
	Profile    calibration.Profile
	HasProfile bool
	Attempts   int
	Probes     int
	Reason     string
	Updated    time.Time
}
