package bus

import (
	"fmt"

	"github.com/ericogr/flowsensor-logger/pkg/sensor"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const DefaultSpeed = 400 * physic.KiloHertz

// I2C implements sensor.Bus on a periph.io I2C bus.
type I2C struct {
	bus    i2c.Bus
	closer func() error
}

var _ sensor.Bus = (*I2C)(nil)

// Open initializes the host drivers and opens the named bus (e.g. "1" for
// /dev/i2c-1).
func Open(name string) (*I2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	// not every adapter lets user space change the clock
	_ = b.SetSpeed(DefaultSpeed)
	return &I2C{bus: b, closer: b.Close}, nil
}

// New wraps an already opened bus.
func New(b i2c.Bus) *I2C {
	return &I2C{bus: b}
}

func (b *I2C) Close() error {
	if b.closer != nil {
		return b.closer()
	}
	return nil
}

func (b *I2C) String() string { return b.bus.String() }

// Select enables a single downstream port of a TCA9548A-style multiplexer.
func (b *I2C) Select(muxAddr uint16, channel int) error {
	if channel < 0 || channel >= sensor.MaxChannels {
		return fmt.Errorf("mux port %d: %w", channel, sensor.ErrChannelRange)
	}
	if err := b.bus.Tx(muxAddr, []byte{1 << uint(channel)}, nil); err != nil {
		return fmt.Errorf("mux 0x%02X: %w", muxAddr, err)
	}
	return nil
}

func (b *I2C) WriteCommand(addr uint16, cmd []byte) error {
	if err := b.bus.Tx(addr, cmd, nil); err != nil {
		return fmt.Errorf("write 0x%02X: %w", addr, err)
	}
	return nil
}

func (b *I2C) ReadFrame(addr uint16, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := b.bus.Tx(addr, nil, buf); err != nil {
		return nil, fmt.Errorf("read 0x%02X: %w", addr, err)
	}
	return buf, nil
}
