package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ericogr/flowsensor-logger/pkg/bus"
	"github.com/ericogr/flowsensor-logger/pkg/config"
	"github.com/ericogr/flowsensor-logger/pkg/output"
	"github.com/ericogr/flowsensor-logger/pkg/output/console"
	"github.com/ericogr/flowsensor-logger/pkg/output/mqtt"
	"github.com/ericogr/flowsensor-logger/pkg/sensor"
	"github.com/ericogr/flowsensor-logger/pkg/station"
	"github.com/ericogr/flowsensor-logger/pkg/web"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalw("flowsensor stopped", "error", err)
	}
}

func newLogger(level string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}

func run(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	b, closeBus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeBus() }()

	driver, err := buildDriver(b, cfg)
	if err != nil {
		return err
	}

	var hub *web.Hub
	if cfg.HTTP.Listen != "" {
		hub = web.NewHub(log.Named("ws"))
		go hub.Run(ctx)
	}

	entries, err := initOutputs(&cfg, cfg.IntervalMs, hub, log)
	if err != nil {
		return err
	}
	disp := output.NewDispatcher(entries, log.Named("output"))
	defer func() { _ = disp.Close() }()
	go disp.Run(ctx)

	st := station.New(driver, station.Options{
		Interval: time.Duration(cfg.IntervalMs) * time.Millisecond,
		MaxRows:  cfg.MaxRows,
		OnTick:   disp.Offer,
		Logger:   log.Named("station"),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	httpErr := make(chan error, 1)
	if hub != nil {
		srv := web.NewServer(st, hub, log.Named("http"))
		go func() {
			httpErr <- srv.Run(ctx, cfg.HTTP.Listen)
			cancel()
		}()
	}

	log.Infow("starting", "sensor_type", cfg.SensorType, "channels", cfg.Ports(), "frame_words", cfg.FrameWords, "interval_ms", cfg.IntervalMs)
	if err := st.Run(ctx); err != nil {
		return err
	}
	select {
	case err := <-httpErr:
		return err
	default:
		return nil
	}
}

func openBus(cfg config.Config) (sensor.Bus, func() error, error) {
	switch cfg.SensorType {
	case "simulation":
		sim := bus.NewSim(cfg.Ports(), time.Now().UnixNano())
		sim.FaultRate = cfg.SimFaultRate
		return sim, func() error { return nil }, nil
	default:
		b, err := bus.Open(cfg.I2C.Bus)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
}

func buildDriver(b sensor.Bus, cfg config.Config) (*sensor.Driver, error) {
	sel, err := sensor.NewSelector(b, uint16(cfg.Mux.Address), cfg.Mux.Enabled, cfg.Ports())
	if err != nil {
		return nil, err
	}
	for i, ch := range cfg.Channels {
		if err := sel.SetEnabled(i, ch.Enabled); err != nil {
			return nil, err
		}
	}
	dcfg := sensor.DefaultDriverConfig()
	dcfg.Address = uint16(cfg.I2C.Address)
	dcfg.Layout = sensor.FrameLayout{Words: cfg.FrameWords}
	dcfg.FlowScale = cfg.FlowScale
	dcfg.TempScale = cfg.TempScale
	dcfg.Settle = time.Duration(cfg.SettleMs) * time.Millisecond
	return sensor.NewDriver(b, sel, dcfg)
}

// initOutputs builds every configured output. Outputs without an interval
// inherit intervalMs.
func initOutputs(cfg *config.Config, intervalMs int, hub *web.Hub, log *zap.SugaredLogger) ([]output.Entry, error) {
	entries := make([]output.Entry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs == 0 {
			oc.IntervalMs = intervalMs
		}
		var (
			o   output.Output
			err error
		)
		switch strings.ToLower(oc.Type) {
		case "console":
			o = console.NewConsole()
		case "mqtt":
			mc := config.MQTTConfig{}
			if oc.MQTT != nil {
				mc = *oc.MQTT
			}
			o, err = mqtt.NewMQTT(mc, cfg.Channels, log.Named("mqtt"))
		case "websocket":
			if hub == nil {
				log.Warnw("websocket output needs the http server, skipped")
				continue
			}
			o = hub
		default:
			err = errors.New("unknown output type")
		}
		if err != nil {
			for _, e := range entries {
				_ = e.Output.Close()
			}
			return nil, fmt.Errorf("output %q: %w", oc.Type, err)
		}
		entries = append(entries, output.Entry{Name: oc.Type, Output: o, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}
