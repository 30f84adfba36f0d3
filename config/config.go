package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"ringflex/calibration"
	"ringflex/devicestate"
	"ringflex/oscmanager"
)

// Config is the complete runtime configuration. The file is read-only;
// nothing is ever written back.
type Config struct {
	OSC         OSCConfig         `toml:"osc"`
	Link        LinkConfig        `toml:"link"`
	Calibration CalibrationConfig `toml:"calibration"`
	MQTT        MQTTConfig        `toml:"mqtt"`
	Log         LogConfig         `toml:"log"`
	GUI         bool              `toml:"gui"`
}

type OSCConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Address string `toml:"address"`
	Rate    int    `toml:"rate"`
}

type LinkConfig struct {
	DevicePath     string   `toml:"device_path,omitempty"`
	Radio          bool     `toml:"radio"`
	FrameTimeout   Duration `toml:"frame_timeout"`
	LossThreshold  int      `toml:"loss_threshold"`
	ProbeInterval  Duration `toml:"probe_interval"`
	BackoffInitial Duration `toml:"backoff_initial"`
	BackoffMax     Duration `toml:"backoff_max"`
}

type CalibrationConfig struct {
	Center          uint8    `toml:"center"`
	Extent          uint8    `toml:"extent"`
	LearnCenter     bool     `toml:"learn_center"`
	DetachWindow    Duration `toml:"detach_window"`
	ReleaseOnDetach bool     `toml:"release_on_detach"`
}

// MQTTConfig enables the status mirror when Broker is set.
type MQTTConfig struct {
	Broker   string `toml:"broker,omitempty"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as "250ms" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used without a file or flags.
func Default() Config {
	state := devicestate.DefaultConfig()
	return Config{
		OSC: OSCConfig{
			Host:    "127.0.0.1",
			Port:    9000,
			Address: oscmanager.DefaultAddress,
			Rate:    60,
		},
		Link: LinkConfig{
			Radio:          true,
			FrameTimeout:   Duration{state.FrameTimeout},
			LossThreshold:  state.LossThreshold,
			ProbeInterval:  Duration{state.ProbeInterval},
			BackoffInitial: Duration{state.BackoffInitial},
			BackoffMax:     Duration{state.BackoffMax},
		},
		Calibration: CalibrationConfig{
			Center:          state.Calibration.Center,
			Extent:          state.Calibration.Extent,
			DetachWindow:    Duration{state.DetachWindow},
			ReleaseOnDetach: state.ReleaseOnDetach,
		},
		MQTT: MQTTConfig{
			Topic:    "ringflex/status",
			ClientID: "ringflex",
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFile reads path over the defaults. Keys absent from the file keep
// their default.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse builds the configuration from args: defaults, then the file named
// by -config, then the remaining flags.
func Parse(args []string) (Config, error) {
	path, err := configPath(args)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if path != "" {
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}

	fs := newFlagSet(&cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// configPath finds -config ahead of the full parse so flags can override
// file values.
func configPath(args []string) (string, error) {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 >= len(args) {
				return "", errors.New("-config needs a path")
			}
			return args[i+1], nil
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config="), nil
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config="), nil
		}
	}
	return "", nil
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("ringflex", flag.ContinueOnError)
	fs.String("config", "", "TOML configuration file")

	fs.StringVar(&cfg.OSC.Host, "osc-host", cfg.OSC.Host, "OSC destination host")
	fs.IntVar(&cfg.OSC.Port, "osc-port", cfg.OSC.Port, "OSC destination port")
	fs.StringVar(&cfg.OSC.Address, "osc-address", cfg.OSC.Address, "OSC parameter address")
	fs.IntVar(&cfg.OSC.Rate, "rate", cfg.OSC.Rate, "messages per second")

	fs.StringVar(&cfg.Link.DevicePath, "device", cfg.Link.DevicePath, "HID path of the controller (default: first Joy-Con R)")
	fs.BoolVar(&cfg.Link.Radio, "radio", cfg.Link.Radio, "enable the bluetooth adapter before discovery")
	fs.DurationVar(&cfg.Link.FrameTimeout.Duration, "frame-timeout", cfg.Link.FrameTimeout.Duration, "wait for one frame")
	fs.IntVar(&cfg.Link.LossThreshold, "loss-threshold", cfg.Link.LossThreshold, "consecutive frame timeouts before reconnecting")
	fs.DurationVar(&cfg.Link.ProbeInterval.Duration, "probe-interval", cfg.Link.ProbeInterval.Duration, "accessory probe interval")
	fs.DurationVar(&cfg.Link.BackoffInitial.Duration, "backoff", cfg.Link.BackoffInitial.Duration, "first reconnect delay")
	fs.DurationVar(&cfg.Link.BackoffMax.Duration, "backoff-max", cfg.Link.BackoffMax.Duration, "longest reconnect delay")

	fs.Func("center", "resting stretch reading", uint8Flag(&cfg.Calibration.Center))
	fs.Func("extent", "default stretch travel each side of center", uint8Flag(&cfg.Calibration.Extent))
	fs.BoolVar(&cfg.Calibration.LearnCenter, "learn-center", cfg.Calibration.LearnCenter, "take the center from the first reading after attach")
	fs.DurationVar(&cfg.Calibration.DetachWindow.Duration, "detach-window", cfg.Calibration.DetachWindow.Duration, "how long the accessory must be missing to count as detached")
	fs.BoolVar(&cfg.Calibration.ReleaseOnDetach, "release-on-detach", cfg.Calibration.ReleaseOnDetach, "publish neutral after a confirmed detach")

	fs.StringVar(&cfg.MQTT.Broker, "mqtt-broker", cfg.MQTT.Broker, "MQTT broker for status, e.g. tcp://localhost:1883")
	fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "MQTT status topic")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug, info, warn or error")
	fs.BoolVar(&cfg.GUI, "gui", cfg.GUI, "show the status window")
	return fs
}

func uint8Flag(dst *uint8) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return err
		}
		*dst = uint8(v)
		return nil
	}
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.OSC.Host == "" {
		errs = append(errs, errors.New("osc.host is empty"))
	}
	if c.OSC.Port <= 0 || c.OSC.Port > 65535 {
		errs = append(errs, fmt.Errorf("osc.port %d out of range", c.OSC.Port))
	}
	if c.OSC.Address == "" || c.OSC.Address[0] != '/' {
		errs = append(errs, fmt.Errorf("osc.address %q must start with /", c.OSC.Address))
	}
	if c.OSC.Rate <= 0 || c.OSC.Rate > 1000 {
		errs = append(errs, fmt.Errorf("osc.rate %d out of range 1-1000", c.OSC.Rate))
	}
	if c.Link.FrameTimeout.Duration <= 0 {
		errs = append(errs, errors.New("link.frame_timeout must be positive"))
	}
	if c.Link.LossThreshold < 1 {
		errs = append(errs, errors.New("link.loss_threshold must be at least 1"))
	}
	if c.Link.BackoffInitial.Duration <= 0 || c.Link.BackoffMax.Duration < c.Link.BackoffInitial.Duration {
		errs = append(errs, errors.New("link.backoff_initial must be positive and not above link.backoff_max"))
	}
	if c.Calibration.Extent == 0 {
		errs = append(errs, errors.New("calibration.extent must be positive"))
	}
	if c.Calibration.DetachWindow.Duration < 0 {
		errs = append(errs, errors.New("calibration.detach_window is negative"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Machine returns the state machine policy.
func (c Config) Machine() devicestate.Config {
	m := devicestate.DefaultConfig()
	m.FrameTimeout = c.Link.FrameTimeout.Duration
	m.LossThreshold = c.Link.LossThreshold
	m.ProbeInterval = c.Link.ProbeInterval.Duration
	m.BackoffInitial = c.Link.BackoffInitial.Duration
	m.BackoffMax = c.Link.BackoffMax.Duration
	m.Calibration = calibration.Defaults{Center: c.Calibration.Center, Extent: c.Calibration.Extent}
	m.LearnCenter = c.Calibration.LearnCenter
	m.DetachWindow = c.Calibration.DetachWindow.Duration
	m.ReleaseOnDetach = c.Calibration.ReleaseOnDetach
	return m
}
