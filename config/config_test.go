package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1", cfg.OSC.Host)
	assert.Equal(t, 9000, cfg.OSC.Port)
	assert.Equal(t, "/avatar/parameters/ringcon_flex", cfg.OSC.Address)
	assert.Equal(t, 60, cfg.OSC.Rate)
	assert.Equal(t, uint8(15), cfg.Calibration.Center)
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse([]string{"-osc-port", "9100", "-rate", "30", "-center", "18", "-detach-window", "750ms", "-gui"})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.OSC.Port)
	assert.Equal(t, 30, cfg.OSC.Rate)
	assert.Equal(t, uint8(18), cfg.Calibration.Center)
	assert.Equal(t, 750*time.Millisecond, cfg.Calibration.DetachWindow.Duration)
	assert.True(t, cfg.GUI)
}

func TestParseRejectsOutOfRangeCenter(t *testing.T) {
	_, err := Parse([]string{"-center", "300"})
	assert.Error(t, err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ringflex.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeConfig(t, `
[osc]
port = 9001

[link]
frame_timeout = "500ms"

[calibration]
learn_center = true

[mqtt]
broker = "tcp://localhost:1883"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.OSC.Port)
	assert.Equal(t, "127.0.0.1", cfg.OSC.Host)
	assert.Equal(t, 500*time.Millisecond, cfg.Link.FrameTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.Link.BackoffMax.Duration)
	assert.True(t, cfg.Calibration.LearnCenter)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "ringflex/status", cfg.MQTT.Topic)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "[osc]\nport = 9001\nrate = 20\n")

	cfg, err := Parse([]string{"-config", path, "-rate", "90"})
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.OSC.Port)
	assert.Equal(t, 90, cfg.OSC.Rate)

	cfg, err = Parse([]string{"-config=" + path})
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.OSC.Rate)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "[link]\nframe_timeout = \"soon\"\n"))
	assert.Error(t, err)

	_, err = Parse([]string{"-config"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":      func(c *Config) { c.OSC.Port = 0 },
		"address":   func(c *Config) { c.OSC.Address = "avatar" },
		"rate":      func(c *Config) { c.OSC.Rate = 0 },
		"timeout":   func(c *Config) { c.Link.FrameTimeout.Duration = 0 },
		"threshold": func(c *Config) { c.Link.LossThreshold = 0 },
		"backoff":   func(c *Config) { c.Link.BackoffMax.Duration = time.Millisecond },
		"extent":    func(c *Config) { c.Calibration.Extent = 0 },
		"log":       func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMachineConfig(t *testing.T) {
	cfg := Default()
	cfg.Calibration.Center = 20
	cfg.Calibration.ReleaseOnDetach = false
	cfg.Link.LossThreshold = 9

	m := cfg.Machine()
	assert.Equal(t, uint8(20), m.Calibration.Center)
	assert.Equal(t, uint8(8), m.Calibration.Extent)
	assert.False(t, m.ReleaseOnDetach)
	assert.Equal(t, 9, m.LossThreshold)
	assert.Equal(t, byte(0x30), m.Layout.ReportID)
}
