package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ringflex/config"
	"ringflex/devicestate"
	"ringflex/linkmanager"
	"ringflex/oscmanager"
	"ringflex/statusmqtt"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(stderr, "ringflex:", err)
		return 2
	}
	setupLogging(stderr, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}

	if cfg.GUI {
		err = runWithWindow(ctx, e)
	} else {
		err = e.run(ctx)
	}

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		fmt.Fprintln(stdout, "ringflex: stopped")
		return 0
	case errors.Is(err, linkmanager.ErrUnsupported):
		log.Error().Err(err).Msg("controller not supported")
		return 3
	default:
		log.Error().Err(err).Msg("stopped with error")
		return 1
	}
}

func setupLogging(w io.Writer, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
}

// engine is the wired set of long running parts.
type engine struct {
	machine *devicestate.Machine
	osc     *oscmanager.OSCManager
	mirror  *statusmqtt.Mirror
}

func newEngine(cfg config.Config) (*engine, error) {
	var radio linkmanager.Radio
	if cfg.Link.Radio {
		radio = linkmanager.DefaultRadio
	}
	link := linkmanager.New(
		linkmanager.WithDevicePath(cfg.Link.DevicePath),
		linkmanager.WithRadio(radio),
	)

	client := oscmanager.NewClient(cfg.OSC.Host, cfg.OSC.Port)
	e := &engine{
		machine: devicestate.New(link, cfg.Machine()),
		osc:     oscmanager.New(client, cfg.OSC.Address, oscmanager.WithRate(cfg.OSC.Rate)),
	}

	if cfg.MQTT.Broker != "" {
		pub, err := statusmqtt.Dial(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return nil, err
		}
		e.mirror = statusmqtt.New(pub, cfg.MQTT.Topic, 0)
	}

	log.Info().
		Str("osc", fmt.Sprintf("%s:%d", cfg.OSC.Host, cfg.OSC.Port)).
		Str("address", cfg.OSC.Address).
		Bool("mqtt", e.mirror != nil).
		Msg("ringflex starting")
	return e, nil
}

// run blocks until ctx is done or the machine faults. The machine always
// returns an error, which stops the publishers through the group context.
func (e *engine) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.machine.Run(ctx)
	})
	g.Go(func() error {
		return e.osc.Run(ctx, e.machine)
	})
	if e.mirror != nil {
		g.Go(func() error {
			return e.mirror.Run(ctx, e.machine)
		})
	}
	return g.Wait()
}
