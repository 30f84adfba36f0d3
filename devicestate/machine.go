package devicestate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"ringflex/calibration"
	"ringflex/frame"
	"ringflex/linkmanager"
)

// Link is the part of linkmanager.Session the machine drives.
type Link interface {
	Discover(ctx context.Context) (linkmanager.Candidate, error)
	Connect(ctx context.Context, c linkmanager.Candidate) error
	NextFrame(ctx context.Context, timeout time.Duration) ([]byte, error)
	ProbeAccessory(ctx context.Context) error
	Dropped() <-chan struct{}
	Close() error
}

// Config holds the timing and calibration policy.
type Config struct {
	Layout          frame.Layout
	FrameTimeout    time.Duration
	LossThreshold   int
	DetachWindow    time.Duration
	ProbeInterval   time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	Calibration     calibration.Defaults
	LearnCenter     bool
	ReleaseOnDetach bool
}

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Layout:          frame.StandardLayout,
		FrameTimeout:    200 * time.Millisecond,
		LossThreshold:   5,
		DetachWindow:    time.Second,
		ProbeInterval:   2 * time.Second,
		BackoffInitial:  time.Second,
		BackoffMax:      30 * time.Second,
		Calibration:     calibration.DefaultDefaults,
		ReleaseOnDetach: true,
	}
}

// Machine tracks the link and accessory lifecycle and owns the published
// value. Run is the only writer; Snapshot and Output may be called from any
// goroutine.
type Machine struct {
	link  Link
	cfg   Config
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	slot atomic.Pointer[Snapshot]

	// owned by Run
	state       State
	profile     *calibration.Profile
	value       float32
	hasValue    bool
	stretch     uint8
	updated     time.Time
	timeouts    int
	detachSince time.Time
	lastProbe   time.Time
	probes      int
	attempts    int
	reason      string
	backoff     Backoff
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Machine) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// New creates a Machine in the Disconnected state.
func New(link Link, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		link:    link,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
		backoff: Backoff{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.publish()
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot returns the latest published view.
func (m *Machine) Snapshot() Snapshot {
	if s := m.slot.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Output returns the value to publish and whether one exists yet.
func (m *Machine) Output() (float32, bool) {
	s := m.slot.Load()
	if s == nil {
		return 0, false
	}
	return s.Value, s.HasValue
}

func (m *Machine) publish() {
	s := &Snapshot{
		State:    m.state,
		Value:    m.value,
		HasValue: m.hasValue,
		Stretch:  m.stretch,
		Attempts: m.attempts,
		Probes:   m.probes,
		Reason:   m.reason,
		Updated:  m.updated,
	}
	if m.profile != nil {
		s.Profile = *m.profile
		s.HasProfile = true
	}
	m.slot.Store(s)
}

func (m *Machine) setState(s State) {
	if m.state != s {
		log.Debug().Str("component", "state").Stringer("from", m.state).Stringer("to", s).Msg("transition")
	}
	m.state = s
	m.publish()
}

// Run drives the link until ctx is done or the device is unsupported. The
// link is closed before Run returns.
func (m *Machine) Run(ctx context.Context) error {
	defer m.link.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch m.state {
		case Faulted:
			return fmt.Errorf("%w: %s", linkmanager.ErrUnsupported, m.reason)
		case Disconnected, Connecting:
			m.connect(ctx)
		default:
			m.receive(ctx)
		}
	}
}

func (m *Machine) connect(ctx context.Context) {
	m.setState(Connecting)

	c, err := m.link.Discover(ctx)
	if err == nil {
		err = m.link.Connect(ctx, c)
	}
	switch {
	case err == nil:
		m.attempts = 0
		m.reason = ""
		m.backoff.Reset()
		m.timeouts = 0
		log.Info().Str("component", "state").Str("path", c.Path).Msg("controller connected")
		m.enterNoAccessory(ctx)
		return
	case errors.Is(err, linkmanager.ErrUnsupported):
		m.fault(err)
		return
	case ctx.Err() != nil:
		return
	}

	m.attempts++
	m.reason = err.Error()
	wait := m.backoff.Next()
	log.Warn().Str("component", "state").Err(err).Int("attempt", m.attempts).Dur("retry_in", wait).Msg("connect failed")
	m.setState(Disconnected)
	_ = m.sleep(ctx, wait)
}

func (m *Machine) fault(err error) {
	m.reason = err.Error()
	_ = m.link.Close()
	log.Error().Str("component", "state").Err(err).Msg("controller unsupported")
	m.profile = nil
	m.setState(Faulted)
}

func (m *Machine) enterNoAccessory(ctx context.Context) {
	m.profile = nil
	m.detachSince = time.Time{}
	m.setState(ConnectedNoAccessory)
	m.probe(ctx)
}

func (m *Machine) probe(ctx context.Context) {
	m.lastProbe = m.now()
	m.probes++
	if err := m.link.ProbeAccessory(ctx); err != nil {
		log.Debug().Str("component", "state").Err(err).Msg("accessory probe failed")
	}
	m.publish()
}

func (m *Machine) receive(ctx context.Context) {
	if m.state == ConnectedNoAccessory && m.now().Sub(m.lastProbe) >= m.cfg.ProbeInterval {
		m.probe(ctx)
	}

	select {
	case <-m.link.Dropped():
		m.lose(linkmanager.ErrLinkDropped)
		return
	default:
	}

	raw, err := m.link.NextFrame(ctx, m.cfg.FrameTimeout)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return
	case errors.Is(err, linkmanager.ErrTimeout):
		m.timeouts++
		if m.timeouts >= m.cfg.LossThreshold {
			m.lose(fmt.Errorf("%d consecutive frame timeouts", m.timeouts))
			return
		}
		m.absent()
		return
	default:
		m.lose(err)
		return
	}

	m.timeouts = 0
	s, err := m.cfg.Layout.Decode(raw)
	if err != nil {
		log.Debug().Str("component", "state").Err(err).Msg("frame dropped")
		return
	}
	if !s.HasAccessory() {
		m.absent()
		return
	}
	m.present(s)
}

// present applies one sample with the accessory attached.
func (m *Machine) present(s frame.Sample) {
	m.detachSince = time.Time{}
	if m.state != ConnectedWithAccessory {
		p := calibration.NewProfile(m.cfg.Calibration)
		if m.cfg.LearnCenter {
			p.LearnCenter(s.Stretch, m.cfg.Calibration.Extent)
		}
		m.profile = &p
		m.state = ConnectedWithAccessory
		log.Info().Str("component", "state").Uint8("stretch", s.Stretch).Msg("accessory attached")
	}

	m.profile.Observe(s.Stretch)
	m.value = calibration.Map(*m.profile, s.Stretch)
	m.hasValue = true
	m.stretch = s.Stretch
	m.updated = m.now()
	m.publish()
}

// absent handles a frame or timeout without the accessory. The detach only
// counts once it has lasted for the detach window.
func (m *Machine) absent() {
	if m.state != ConnectedWithAccessory {
		return
	}
	now := m.now()
	if m.detachSince.IsZero() {
		m.detachSince = now
		log.Debug().Str("component", "state").Msg("accessory missing")
		return
	}
	if now.Sub(m.detachSince) < m.cfg.DetachWindow {
		return
	}

	log.Info().Str("component", "state").Dur("after", now.Sub(m.detachSince)).Msg("accessory detached")
	m.profile = nil
	m.detachSince = time.Time{}
	m.lastProbe = time.Time{}
	if m.cfg.ReleaseOnDetach && m.hasValue {
		m.value = calibration.Neutral
		m.updated = now
	}
	m.setState(ConnectedNoAccessory)
}

// lose drops the link. The last value stays published.
func (m *Machine) lose(err error) {
	_ = m.link.Close()
	m.profile = nil
	m.detachSince = time.Time{}
	m.timeouts = 0
	m.reason = err.Error()
	log.Warn().Str("component", "state").Err(err).Msg("link lost")
	m.setState(Disconnected)
}
