package oscmanager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog/log"

	"ringflex/calibration"
)

// DefaultAddress is the avatar parameter the flex value is written to.
const DefaultAddress = "/avatar/parameters/ringcon_flex"

// Sender delivers one OSC packet. *osc.Client satisfies it.
type Sender interface {
	Send(packet osc.Packet) error
}

// Source provides the current value and whether there is one yet.
type Source interface {
	Output() (float32, bool)
}

// OSCManager publishes the flex value at a fixed rate, independent of how
// often frames arrive.
type OSCManager struct {
	Address  string
	interval time.Duration
	sender   Sender

	lastErr time.Time
	sent    atomic.Uint64
}

// Option configures an OSCManager.
type Option func(*OSCManager)

// WithRate sets the number of messages per second.
func WithRate(hz int) Option {
	return func(o *OSCManager) {
		if hz > 0 {
			o.interval = time.Second / time.Duration(hz)
		}
	}
}

// New creates an OSCManager sending to address through sender.
func New(sender Sender, address string, opts ...Option) *OSCManager {
	o := &OSCManager{
		Address:  address,
		interval: time.Second / 60,
		sender:   sender,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewClient returns a UDP client for host:port.
func NewClient(host string, port int) *osc.Client {
	return osc.NewClient(host, port)
}

// Run publishes until ctx is done. It never waits on the source.
func (o *OSCManager) Run(ctx context.Context, src Source) error {
	log.Info().Str("component", "osc").Str("address", o.Address).Dur("interval", o.interval).Msg("publishing")

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.Publish(src)
		}
	}
}

// Publish sends the current value once. Nothing is sent before the first
// value exists. Send errors are logged at most once a second.
func (o *OSCManager) Publish(src Source) bool {
	v, ok := src.Output()
	if !ok {
		return false
	}

	msg := osc.NewMessage(o.Address)
	msg.Append(calibration.Clamp(v))
	if err := o.sender.Send(msg); err != nil {
		if now := time.Now(); now.Sub(o.lastErr) >= time.Second {
			o.lastErr = now
			log.Warn().Str("component", "osc").Err(err).Msg("send failed")
		}
		return false
	}
	o.sent.Add(1)
	return true
}

// Sent is the number of messages delivered so far.
func (o *OSCManager) Sent() uint64 {
	return o.sent.Load()
}
