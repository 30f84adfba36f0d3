package linkmanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Session owns the association with exactly one paired controller.
// A new handle is created on every Connect and never reused.
type Session struct {
	finder   Finder
	opener   Opener
	radio    Radio
	pinned   string
	gap      time.Duration
	frameBuf int

	radioOn bool
	replies atomic.Uint64

	mu      sync.Mutex
	handle  *handle
	counter uint8
}

type handle struct {
	dev     Device
	path    string
	frames  chan []byte
	dropped chan struct{}
	readErr error
	once    sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithFinder replaces controller discovery.
func WithFinder(f Finder) Option {
	return func(s *Session) {
		if f != nil {
			s.finder = f
		}
	}
}

// WithOpener replaces how a device path is opened.
func WithOpener(o Opener) Option {
	return func(s *Session) {
		if o != nil {
			s.opener = o
		}
	}
}

// WithRadio sets the adapter enabled before discovery. nil skips the check.
func WithRadio(r Radio) Option {
	return func(s *Session) {
		s.radio = r
	}
}

// WithDevicePath pins discovery to one HID path.
func WithDevicePath(path string) Option {
	return func(s *Session) {
		s.pinned = path
	}
}

// WithSubcommandGap spaces consecutive subcommands of a sequence.
func WithSubcommandGap(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.gap = d
		}
	}
}

// WithFrameBuffer sets how many frames are queued before the oldest is dropped.
func WithFrameBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.frameBuf = n
		}
	}
}

// New creates a Session. Nothing is opened until Connect.
func New(opts ...Option) *Session {
	s := &Session{
		finder:   findJoyConR,
		opener:   openHID,
		radio:    DefaultRadio,
		gap:      20 * time.Millisecond,
		frameBuf: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover returns the controller to connect to.
func (s *Session) Discover(ctx context.Context) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}

	if s.radio != nil && !s.radioOn {
		if err := s.radio.Enable(); err != nil {
			return Candidate{}, fmt.Errorf("%w: bluetooth adapter: %v", ErrNoDeviceFound, err)
		}
		s.radioOn = true
	}

	candidates, err := s.finder()
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrNoDeviceFound, err)
	}
	for _, c := range candidates {
		if s.pinned == "" || c.Path == s.pinned {
			log.Debug().Str("component", "link").Str("path", c.Path).Msg("controller found")
			return c, nil
		}
	}
	return Candidate{}, ErrNoDeviceFound
}

// Connect opens c and switches it into full report mode. Any previous
// handle is closed first.
func (s *Session) Connect(ctx context.Context, c Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Close()

	dev, product, err := s.opener(c.Path)
	if err != nil {
		if product != 0 && product != ProductJoyConR {
			return fmt.Errorf("%w: product 0x%04x: %v", ErrUnsupported, product, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	if product != ProductJoyConR {
		dev.Close()
		return fmt.Errorf("%w: product 0x%04x", ErrUnsupported, product)
	}

	h := &handle{
		dev:     dev,
		path:    c.Path,
		frames:  make(chan []byte, s.frameBuf),
		dropped: make(chan struct{}),
	}
	go s.pump(h)

	s.mu.Lock()
	s.handle = h
	s.counter = 0
	s.mu.Unlock()

	if err := s.sendAll(ctx, baseConfig); err != nil {
		s.Close()
		return fmt.Errorf("%w: configure: %v", ErrConnectFailed, err)
	}
	log.Info().Str("component", "link").Str("path", c.Path).Msg("connected")
	return nil
}

// pump moves reports from the device into the frame queue. Subcommand
// replies are counted and skipped. When the device read channel closes the
// handle is marked dropped.
func (s *Session) pump(h *handle) {
	for report := range h.dev.ReadCh() {
		if len(report) == 0 {
			continue
		}
		if report[0] == inputReportReply {
			s.replies.Add(1)
			continue
		}
		select {
		case h.frames <- report:
		default:
			// queue full: drop the oldest frame
			select {
			case <-h.frames:
			default:
			}
			select {
			case h.frames <- report:
			default:
			}
		}
	}
	h.readErr = h.dev.ReadError()
	close(h.dropped)
}

func (s *Session) current() *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// NextFrame blocks until a report arrives, the timeout elapses (ErrTimeout)
// or the link goes away (ErrLinkDropped).
func (s *Session) NextFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	h := s.current()
	if h == nil {
		return nil, ErrNotConnected
	}

	// Reports queued before a drop are still delivered.
	select {
	case report := <-h.frames:
		return report, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case report := <-h.frames:
		return report, nil
	case <-h.dropped:
		select {
		case report := <-h.frames:
			return report, nil
		default:
		}
		if h.readErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrLinkDropped, h.readErr)
		}
		return nil, ErrLinkDropped
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendSubcommand writes one control request. No reply is awaited.
func (s *Session) SendSubcommand(id byte, payload []byte) error {
	s.mu.Lock()
	h := s.handle
	counter := s.counter
	s.counter = (s.counter + 1) & 0x0f
	s.mu.Unlock()

	if h == nil {
		return ErrNotConnected
	}
	if err := h.dev.Write(buildSubcommand(counter, id, payload)); err != nil {
		return fmt.Errorf("subcommand 0x%02x: %w", id, err)
	}
	return nil
}

// ProbeAccessory sends the accessory enable sequence.
func (s *Session) ProbeAccessory(ctx context.Context) error {
	return s.sendAll(ctx, AccessoryProbe)
}

func (s *Session) sendAll(ctx context.Context, seq []Subcommand) error {
	for i, sc := range seq {
		if i > 0 && s.gap > 0 {
			t := time.NewTimer(s.gap)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := s.SendSubcommand(sc.ID, sc.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Dropped is closed when the current handle's reader ends. Without a
// handle the returned channel is already closed.
func (s *Session) Dropped() <-chan struct{} {
	if h := s.current(); h != nil {
		return h.dropped
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Replies is the number of subcommand replies seen since New.
func (s *Session) Replies() uint64 {
	return s.replies.Load()
}

// Close releases the association. Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.dev.Close()
		log.Debug().Str("component", "link").Str("path", h.path).Msg("closed")
	})
	return nil
}
