package linkmanager

import "errors"

var (
	// ErrNoDeviceFound means no paired controller matched. Retry later.
	ErrNoDeviceFound = errors.New("no device found")
	// ErrConnectFailed is a transient connect failure. Retry with backoff.
	ErrConnectFailed = errors.New("connect failed")
	// ErrUnsupported means the device profile does not match. Not retryable.
	ErrUnsupported = errors.New("unsupported device")
	// ErrTimeout means no frame arrived in time.
	ErrTimeout = errors.New("frame timeout")
	// ErrLinkDropped means the wireless association is gone.
	ErrLinkDropped = errors.New("link dropped")
	// ErrNotConnected is returned by operations that need a live handle.
	ErrNotConnected = errors.New("not connected")
)
