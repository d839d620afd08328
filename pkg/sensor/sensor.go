package sensor

import "errors"

const (
	DefaultMuxAddress    = 0x70
	DefaultSensorAddress = 0x08
	DefaultFlowScale     = 500.0
	DefaultTempScale     = 200.0
	// MaxChannels is the width of a TCA9548A multiplexer.
	MaxChannels = 8
)

var (
	ErrChannelRange = errors.New("channel out of range")
	ErrChecksum     = errors.New("checksum mismatch")
	ErrShortFrame   = errors.New("short frame")
)

// Reading is one decoded measurement of a single channel. Values are zero
// whenever OK is false.
type Reading struct {
	FlowMlMin float32 `json:"flow_ml_min"`
	TempC     float32 `json:"temp_c"`
	Flags     uint16  `json:"flags,omitempty"`
	OK        bool    `json:"ok"`
	Enabled   bool    `json:"enabled"`
}

// Bus is the set of blocking transfer primitives the driver needs. Timeouts
// are enforced by the implementation.
type Bus interface {
	Select(muxAddr uint16, channel int) error
	WriteCommand(addr uint16, cmd []byte) error
	ReadFrame(addr uint16, n int) ([]byte, error)
}

// FrameLayout describes how many checksummed words a measurement frame
// carries. Word 0 is flow, word 1 temperature, word 2 (optional) the
// signaling flags.
type FrameLayout struct {
	Words int
}

func (l FrameLayout) Size() int { return 3 * l.Words }

func (l FrameLayout) Valid() bool { return l.Words == 2 || l.Words == 3 }

var (
	// FlowTemp is the 6-byte frame: flow and temperature.
	FlowTemp = FrameLayout{Words: 2}
	// FlowTempFlags adds the signaling flags word (9 bytes).
	FlowTempFlags = FrameLayout{Words: 3}
)

const (
	FlagAirInLine uint16 = 1 << 0
	FlagHighFlow  uint16 = 1 << 1
)
