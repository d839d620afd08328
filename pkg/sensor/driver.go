package sensor

import (
	"errors"
	"fmt"
	"time"
)

var (
	cmdStartWater = []byte{0x36, 0x08}
	cmdStop       = []byte{0x3F, 0xF9}
)

type DriverConfig struct {
	Address   uint16
	Layout    FrameLayout
	FlowScale float64
	TempScale float64
	// SelectDelay is waited between a mux select and a command write.
	SelectDelay time.Duration
	// Settle is waited after start/stop before the sensor is touched again.
	Settle time.Duration
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Address:     DefaultSensorAddress,
		Layout:      FlowTemp,
		FlowScale:   DefaultFlowScale,
		TempScale:   DefaultTempScale,
		SelectDelay: 2 * time.Millisecond,
		Settle:      5 * time.Millisecond,
	}
}

// Driver speaks the liquid flow sensor protocol over a Bus. It is not safe
// for concurrent use; callers serialize access.
type Driver struct {
	bus  Bus
	sel  *Selector
	cfg  DriverConfig
	flow float32
	temp float32
}

func NewDriver(bus Bus, sel *Selector, cfg DriverConfig) (*Driver, error) {
	if !cfg.Layout.Valid() {
		return nil, fmt.Errorf("frame layout with %d words not supported", cfg.Layout.Words)
	}
	if cfg.FlowScale == 0 || cfg.TempScale == 0 {
		return nil, errors.New("scale factors must be non-zero")
	}
	return &Driver{bus: bus, sel: sel, cfg: cfg, flow: float32(cfg.FlowScale), temp: float32(cfg.TempScale)}, nil
}

func (d *Driver) Selector() *Selector { return d.sel }

func (d *Driver) Layout() FrameLayout { return d.cfg.Layout }

// Start puts the sensor on channel into continuous measurement mode.
func (d *Driver) Start(channel int) error {
	return d.command(channel, cmdStartWater)
}

func (d *Driver) Stop(channel int) error {
	return d.command(channel, cmdStop)
}

func (d *Driver) command(channel int, cmd []byte) error {
	if err := d.sel.Select(channel); err != nil {
		return err
	}
	time.Sleep(d.cfg.SelectDelay)
	if err := d.bus.WriteCommand(d.cfg.Address, cmd); err != nil {
		return fmt.Errorf("channel %d command %02X%02X: %w", channel, cmd[0], cmd[1], err)
	}
	time.Sleep(d.cfg.Settle)
	return nil
}

// StartAll starts every channel, continuing past failures.
func (d *Driver) StartAll() error {
	var errs []error
	for ch := 0; ch < d.sel.Count(); ch++ {
		errs = append(errs, d.Start(ch))
	}
	return errors.Join(errs...)
}

func (d *Driver) StopAll() error {
	var errs []error
	for ch := 0; ch < d.sel.Count(); ch++ {
		errs = append(errs, d.Stop(ch))
	}
	return errors.Join(errs...)
}

// Read returns the current measurement of channel. Failures produce a
// zeroed reading with OK false.
func (d *Driver) Read(channel int) Reading {
	r, _ := d.ReadErr(channel)
	return r
}

// ReadErr is Read with the failure cause. A disabled channel returns a
// zeroed reading and a nil error without touching the bus.
func (d *Driver) ReadErr(channel int) (Reading, error) {
	if !d.sel.Enabled(channel) {
		if err := d.sel.check(channel); err != nil {
			return Reading{}, err
		}
		return Reading{}, nil
	}
	if err := d.sel.Select(channel); err != nil {
		return Reading{Enabled: true}, err
	}
	frame, err := d.bus.ReadFrame(d.cfg.Address, d.cfg.Layout.Size())
	if err != nil {
		return Reading{Enabled: true}, fmt.Errorf("channel %d read: %w", channel, err)
	}
	r, err := Decode(frame, d.cfg.Layout, d.flow, d.temp)
	r.Enabled = true
	if err != nil {
		return r, fmt.Errorf("channel %d: %w", channel, err)
	}
	return r, nil
}

// Decode validates every word of frame and scales flow and temperature into
// physical units. Nothing is decoded unless all checksums match.
func Decode(frame []byte, layout FrameLayout, flowScale, tempScale float32) (Reading, error) {
	if len(frame) < layout.Size() {
		return Reading{}, fmt.Errorf("%w: got %d bytes want %d", ErrShortFrame, len(frame), layout.Size())
	}
	for w := 0; w < layout.Words; w++ {
		i := 3 * w
		if !ValidWord(frame[i], frame[i+1], frame[i+2]) {
			return Reading{}, fmt.Errorf("word %d: %w", w, ErrChecksum)
		}
	}
	flowRaw := int16(frame[0])<<8 | int16(frame[1])
	tempRaw := int16(frame[3])<<8 | int16(frame[4])
	r := Reading{
		FlowMlMin: float32(flowRaw) / flowScale,
		TempC:     float32(tempRaw) / tempScale,
		OK:        true,
	}
	if layout.Words > 2 {
		r.Flags = uint16(frame[6])<<8 | uint16(frame[7])
	}
	return r, nil
}
