package frame

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when a report does not match the layout.
var ErrMalformedFrame = errors.New("malformed frame")

// Layout describes the structure of one input report revision.
type Layout struct {
	ReportID      byte
	Length        int
	StretchOffset int
}

// StandardLayout is the full input report (mode 0x30) with the ring
// accessory reading packed into the motion data area.
//
// Bytes:
//
//	 0: report id (0x30)
//	 1: timer
//	 2: battery level (high nibble) / connection info (low nibble)
//	3-5: buttons (right, shared, left)
//	6-8: left stick, two packed 12-bit axes
//	9-11: right stick, two packed 12-bit axes
//	12: vibrator input report
//	13-48: motion data; byte 40 carries the accessory stretch reading
var StandardLayout = Layout{ReportID: 0x30, Length: 49, StretchOffset: 40}

// Stick holds the raw 12-bit axes of one analog stick.
type Stick struct {
	X uint16
	Y uint16
}

// Sample is one decoded input report.
type Sample struct {
	Timer      uint8
	Battery    uint8
	Connection uint8
	Buttons    uint32
	Left       Stick
	Right      Stick
	Stretch    uint8
}

// HasAccessory reports whether the accessory channel is populated.
// The controller reports zero while nothing is attached.
func (s Sample) HasAccessory() bool {
	return s.Stretch != 0
}

// Button reports whether bit n of the 24-bit button field is set.
func (s Sample) Button(n uint) bool {
	return s.Buttons&(1<<n) != 0
}

// Decode decodes raw with StandardLayout.
func Decode(raw []byte) (Sample, error) {
	return StandardLayout.Decode(raw)
}

// Decode checks the structure of raw and extracts its fields. Value ranges
// are not validated.
func (l Layout) Decode(raw []byte) (Sample, error) {
	if len(raw) != l.Length {
		return Sample{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedFrame, len(raw), l.Length)
	}
	if raw[0] != l.ReportID {
		return Sample{}, fmt.Errorf("%w: report id 0x%02x, want 0x%02x", ErrMalformedFrame, raw[0], l.ReportID)
	}
	if l.StretchOffset <= 12 || l.StretchOffset >= l.Length {
		return Sample{}, fmt.Errorf("%w: stretch offset %d outside motion data", ErrMalformedFrame, l.StretchOffset)
	}

	return Sample{
		Timer:      raw[1],
		Battery:    raw[2] >> 4,
		Connection: raw[2] & 0x0f,
		Buttons:    uint32(raw[3]) | uint32(raw[4])<<8 | uint32(raw[5])<<16,
		Left:       unpackStick(raw[6:9]),
		Right:      unpackStick(raw[9:12]),
		Stretch:    raw[l.StretchOffset],
	}, nil
}

func unpackStick(b []byte) Stick {
	return Stick{
		X: uint16(b[0]) | uint16(b[1]&0x0f)<<8,
		Y: uint16(b[1]>>4) | uint16(b[2])<<4,
	}
}

// Encode builds a report for s. Bytes the layout does not map are zero.
func (l Layout) Encode(s Sample) []byte {
	raw := make([]byte, l.Length)
	raw[0] = l.ReportID
	raw[1] = s.Timer
	raw[2] = s.Battery<<4 | s.Connection&0x0f
	raw[3] = byte(s.Buttons)
	raw[4] = byte(s.Buttons >> 8)
	raw[5] = byte(s.Buttons >> 16)
	packStick(raw[6:9], s.Left)
	packStick(raw[9:12], s.Right)
	raw[l.StretchOffset] = s.Stretch
	return raw
}

func packStick(b []byte, s Stick) {
	b[0] = byte(s.X)
	b[1] = byte(s.X>>8)&0x0f | byte(s.Y<<4)
	b[2] = byte(s.Y >> 4)
}
