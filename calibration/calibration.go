package calibration

import "math"

const (
	// Neutral is published while the accessory is at rest.
	Neutral float32 = 2.0
	// MinOutput is full squeeze.
	MinOutput float32 = 1.0
	// MaxOutput is full pull.
	MaxOutput float32 = 3.0
)

// Defaults seed a profile at attach time.
type Defaults struct {
	Center uint8
	Extent uint8
}

// DefaultDefaults matches the resting reading of the ring and a
// deliberately narrow travel, so early values stay near neutral.
var DefaultDefaults = Defaults{Center: 15, Extent: 8}

// Profile is the per-attach calibration of the stretch sensor.
// Min and Max only ever widen while the accessory stays attached.
type Profile struct {
	Center uint8
	Min    uint8
	Max    uint8

	centered bool
}

// NewProfile returns a profile spanning d.Extent on each side of d.Center.
func NewProfile(d Defaults) Profile {
	p := Profile{Center: d.Center}
	p.spread(d.Extent)
	return p
}

func (p *Profile) spread(extent uint8) {
	p.Min = p.Center - min(extent, p.Center)
	p.Max = p.Center + min(extent, 255-p.Center)
}

// LearnCenter adopts stretch as the center once per profile and re-spreads
// the default extent around it. Later calls are ignored.
func (p *Profile) LearnCenter(stretch uint8, extent uint8) {
	if p.centered {
		return
	}
	p.centered = true
	p.Center = stretch
	p.spread(extent)
}

// Observe widens the learned extents to include stretch.
func (p *Profile) Observe(stretch uint8) {
	if stretch < p.Min {
		p.Min = stretch
	}
	if stretch > p.Max {
		p.Max = stretch
	}
}

// SqueezeExtent is the learned travel below the center.
func (p Profile) SqueezeExtent() uint8 { return p.Center - min(p.Min, p.Center) }

// PullExtent is the learned travel above the center.
func (p Profile) PullExtent() uint8 { return max(p.Max, p.Center) - p.Center }

// Map converts a raw stretch reading into the output range [1, 3].
func Map(p Profile, stretch uint8) float32 {
	offset := int(stretch) - int(p.Center)
	var v float32
	switch {
	case offset < 0:
		v = Neutral + float32(offset)/float32(max(p.SqueezeExtent(), 1))
	case offset > 0:
		v = Neutral + float32(offset)/float32(max(p.PullExtent(), 1))
	default:
		return Neutral
	}
	return Clamp(v)
}

// Clamp limits v to [MinOutput, MaxOutput].
func Clamp(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return Neutral
	}
	return min(max(v, MinOutput), MaxOutput)
}
