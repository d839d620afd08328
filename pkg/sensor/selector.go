package sensor

import "fmt"

// Selector addresses one sensor behind the shared multiplexer and keeps the
// per-channel enable flags. Channels are logical indexes in [0, Count());
// each maps to a multiplexer port.
type Selector struct {
	bus     Bus
	muxAddr uint16
	useMux  bool
	ports   []int
	enabled []bool
}

// NewSelector builds a selector with one channel per port, all enabled. With
// useMux false there must be exactly one channel and the bus is never
// written on select.
func NewSelector(bus Bus, muxAddr uint16, useMux bool, ports []int) (*Selector, error) {
	if len(ports) < 1 || len(ports) > MaxChannels {
		return nil, fmt.Errorf("channel count %d: %w", len(ports), ErrChannelRange)
	}
	if !useMux && len(ports) > 1 {
		return nil, fmt.Errorf("%d channels need a multiplexer", len(ports))
	}
	seen := make(map[int]bool, len(ports))
	for _, p := range ports {
		if p < 0 || p >= MaxChannels {
			return nil, fmt.Errorf("mux port %d: %w", p, ErrChannelRange)
		}
		if seen[p] {
			return nil, fmt.Errorf("mux port %d used twice", p)
		}
		seen[p] = true
	}
	en := make([]bool, len(ports))
	for i := range en {
		en[i] = true
	}
	return &Selector{
		bus:     bus,
		muxAddr: muxAddr,
		useMux:  useMux,
		ports:   append([]int(nil), ports...),
		enabled: en,
	}, nil
}

func (s *Selector) Count() int { return len(s.ports) }

// Port returns the multiplexer port wired to channel.
func (s *Selector) Port(channel int) int { return s.ports[channel] }

func (s *Selector) check(channel int) error {
	if channel < 0 || channel >= len(s.ports) {
		return fmt.Errorf("channel %d: %w", channel, ErrChannelRange)
	}
	return nil
}

// Select routes the bus to channel. Range errors are returned before any
// bus access.
func (s *Selector) Select(channel int) error {
	if err := s.check(channel); err != nil {
		return err
	}
	if !s.useMux {
		return nil
	}
	if err := s.bus.Select(s.muxAddr, s.ports[channel]); err != nil {
		return fmt.Errorf("mux select port %d: %w", s.ports[channel], err)
	}
	return nil
}

func (s *Selector) SetEnabled(channel int, on bool) error {
	if err := s.check(channel); err != nil {
		return err
	}
	s.enabled[channel] = on
	return nil
}

// Enabled returns false for unknown channels.
func (s *Selector) Enabled(channel int) bool {
	if s.check(channel) != nil {
		return false
	}
	return s.enabled[channel]
}
