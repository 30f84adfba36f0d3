package linkmanager

import "tinygo.org/x/bluetooth"

// Radio is the local Bluetooth adapter.
type Radio interface {
	Enable() error
}

// DefaultRadio is the system adapter.
var DefaultRadio Radio = bluetooth.DefaultAdapter
