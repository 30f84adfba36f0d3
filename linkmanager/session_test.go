package linkmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu      sync.Mutex
	writes  [][]byte
	ch      chan []byte
	readErr error
	once    sync.Once
	closed  chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{ch: make(chan []byte, 16), closed: make(chan struct{})}
}

func (d *fakeDevice) Close() {
	d.once.Do(func() {
		close(d.closed)
		close(d.ch)
	})
}

func (d *fakeDevice) Write(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, append([]byte(nil), b...))
	return nil
}

func (d *fakeDevice) ReadCh() <-chan []byte { return d.ch }
func (d *fakeDevice) ReadError() error      { return d.readErr }

func (d *fakeDevice) written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.writes...)
}

type fakeRadio struct {
	calls int
	err   error
}

func (r *fakeRadio) Enable() error {
	r.calls++
	return r.err
}

func newTestSession(dev *fakeDevice, opts ...Option) *Session {
	base := []Option{
		WithRadio(nil),
		WithSubcommandGap(0),
		WithFinder(func() ([]Candidate, error) {
			return []Candidate{{Path: "/dev/hidraw3", ProductID: ProductJoyConR}}, nil
		}),
		WithOpener(func(path string) (Device, uint16, error) {
			return dev, ProductJoyConR, nil
		}),
	}
	return New(append(base, opts...)...)
}

func connect(t *testing.T, s *Session) {
	t.Helper()
	c, err := s.Discover(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background(), c))
}

func report(id byte) []byte {
	b := make([]byte, 49)
	b[0] = id
	return b
}

func TestDiscoverEnablesRadioOnce(t *testing.T) {
	radio := &fakeRadio{}
	s := newTestSession(newFakeDevice(), WithRadio(radio))

	_, err := s.Discover(context.Background())
	require.NoError(t, err)
	_, err = s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, radio.calls)
}

func TestDiscoverRadioFailure(t *testing.T) {
	radio := &fakeRadio{err: errors.New("adapter powered off")}
	s := newTestSession(newFakeDevice(), WithRadio(radio))

	_, err := s.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoDeviceFound)

	radio.err = nil
	_, err = s.Discover(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, radio.calls)
}

func TestDiscoverNoDevice(t *testing.T) {
	s := newTestSession(newFakeDevice(), WithFinder(func() ([]Candidate, error) { return nil, nil }))
	_, err := s.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoDeviceFound)

	s = newTestSession(newFakeDevice(), WithFinder(func() ([]Candidate, error) {
		return nil, errors.New("enumerate failed")
	}))
	_, err = s.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoDeviceFound)
}

func TestDiscoverPinnedPath(t *testing.T) {
	s := newTestSession(newFakeDevice(),
		WithDevicePath("/dev/hidraw9"),
		WithFinder(func() ([]Candidate, error) {
			return []Candidate{{Path: "/dev/hidraw3"}, {Path: "/dev/hidraw9"}}, nil
		}),
	)
	c, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/hidraw9", c.Path)

	s = newTestSession(newFakeDevice(), WithDevicePath("/dev/hidraw1"))
	_, err = s.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoDeviceFound)
}

func TestConnectSendsBaseConfig(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSession(dev)
	connect(t, s)
	defer s.Close()

	writes := dev.written()
	require.Len(t, writes, len(baseConfig))
	for i, w := range writes {
		assert.Equal(t, byte(0x01), w[0])
		assert.Equal(t, byte(i), w[1])
		assert.Equal(t, neutralRumble[:], w[2:10])
		assert.Equal(t, baseConfig[i].ID, w[10])
	}
	assert.Equal(t, SubcommandSetReportMode, writes[2][10])
	assert.Equal(t, byte(0x30), writes[2][11])
}

func TestConnectUnsupportedProduct(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSession(dev, WithOpener(func(string) (Device, uint16, error) {
		return dev, 0x2006, nil
	}))

	err := s.Connect(context.Background(), Candidate{Path: "/dev/hidraw3"})
	assert.ErrorIs(t, err, ErrUnsupported)

	select {
	case <-dev.closed:
	default:
		t.Fatal("device left open after rejection")
	}
}

func TestConnectOpenFailure(t *testing.T) {
	s := newTestSession(newFakeDevice(), WithOpener(func(string) (Device, uint16, error) {
		return nil, 0, errors.New("permission denied")
	}))

	err := s.Connect(context.Background(), Candidate{Path: "/dev/hidraw3"})
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.NotErrorIs(t, err, ErrUnsupported)
}

func TestNextFrameSkipsReplies(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSession(dev)
	connect(t, s)
	defer s.Close()

	dev.ch <- report(0x21)
	dev.ch <- report(0x30)

	got, err := s.NextFrame(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(0x30), got[0])
	assert.Equal(t, uint64(1), s.Replies())
}

func TestNextFrameTimeout(t *testing.T) {
	s := newTestSession(newFakeDevice())
	connect(t, s)
	defer s.Close()

	_, err := s.NextFrame(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNextFrameLinkDropped(t *testing.T) {
	dev := newFakeDevice()
	dev.readErr = errors.New("connection reset")
	s := newTestSession(dev)
	connect(t, s)
	defer s.Close()

	dropped := s.Dropped()
	dev.Close()

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("drop not signalled")
	}
	_, err := s.NextFrame(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrLinkDropped)
}

func TestNextFrameHonoursContext(t *testing.T) {
	s := newTestSession(newFakeDevice())
	connect(t, s)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.NextFrame(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseIsIdempotent(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSession(dev)
	connect(t, s)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, err := s.NextFrame(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.SendSubcommand(SubcommandEnableIMU, []byte{1}), ErrNotConnected)

	select {
	case <-s.Dropped():
	default:
		t.Fatal("Dropped must be closed without a handle")
	}
}

func TestReconnectCreatesFreshHandle(t *testing.T) {
	first, second := newFakeDevice(), newFakeDevice()
	devs := []*fakeDevice{first, second}
	s := newTestSession(nil, WithOpener(func(string) (Device, uint16, error) {
		d := devs[0]
		devs = devs[1:]
		return d, ProductJoyConR, nil
	}))

	connect(t, s)
	connect(t, s)
	defer s.Close()

	select {
	case <-first.closed:
	default:
		t.Fatal("previous handle not closed on reconnect")
	}
	second.ch <- report(0x30)
	_, err := s.NextFrame(context.Background(), time.Second)
	assert.NoError(t, err)
}

func TestProbeAccessorySendsSequence(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSession(dev)
	connect(t, s)
	defer s.Close()

	require.NoError(t, s.ProbeAccessory(context.Background()))

	writes := dev.written()[len(baseConfig):]
	require.Len(t, writes, len(AccessoryProbe))
	for i, w := range writes {
		assert.Equal(t, AccessoryProbe[i].ID, w[10])
	}
	// counter is four bits and wraps
	assert.Equal(t, byte((len(baseConfig)+len(AccessoryProbe)-1)%16), writes[len(writes)-1][1])
}

func TestBuildSubcommandLayout(t *testing.T) {
	buf := buildSubcommand(0x13, SubcommandSetMCUConfig, mcuConfig(0x00, 0x03, 0xfa))
	require.Len(t, buf, 49)
	assert.Equal(t, byte(0x03), buf[1])
	assert.Equal(t, SubcommandSetMCUConfig, buf[10])
	assert.Equal(t, byte(0x21), buf[11])
	assert.Equal(t, byte(0x03), buf[13])
	assert.Equal(t, byte(0xfa), buf[48])

	short := buildSubcommand(0, SubcommandExtDeviceInfo, nil)
	assert.Len(t, short, 49)
}
