package bus

import (
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/ericogr/flowsensor-logger/pkg/sensor"
)

var (
	ErrNack = errors.New("nack")
	ErrIdle = errors.New("sensor not measuring")
)

// Sim is an in-memory bus with one simulated flow sensor per mux port.
type Sim struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	port      int
	running   map[int]bool
	setpoints map[int]float64
	tempC     float64
	flowScale float64
	tempScale float64
	// FaultRate is the probability that a read NACKs or returns a corrupted
	// check byte.
	FaultRate float64
}

var _ sensor.Bus = (*Sim)(nil)

func NewSim(ports []int, seed int64) *Sim {
	s := &Sim{
		rnd:       rand.New(rand.NewSource(seed)),
		running:   make(map[int]bool),
		setpoints: make(map[int]float64),
		tempC:     22.0,
		flowScale: sensor.DefaultFlowScale,
		tempScale: sensor.DefaultTempScale,
	}
	for _, p := range ports {
		s.setpoints[p] = 1.0 + 0.5*float64(p)
	}
	return s
}

// SetFlow changes the mean flow of the sensor on port.
func (s *Sim) SetFlow(port int, mlMin float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setpoints[port] = mlMin
}

func (s *Sim) Select(muxAddr uint16, channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.setpoints[channel]; !ok {
		return ErrNack
	}
	s.port = channel
	return nil
}

func (s *Sim) WriteCommand(addr uint16, cmd []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cmd) != 2 {
		return ErrNack
	}
	switch {
	case cmd[0] == 0x36:
		s.running[s.port] = true
	case cmd[0] == 0x3F && cmd[1] == 0xF9:
		s.running[s.port] = false
	default:
		return ErrNack
	}
	return nil
}

func (s *Sim) ReadFrame(addr uint16, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running[s.port] {
		return nil, ErrIdle
	}
	fault := s.FaultRate > 0 && s.rnd.Float64() < s.FaultRate
	if fault && s.rnd.Intn(2) == 0 {
		return nil, ErrNack
	}
	flow := s.setpoints[s.port] * (1 + 0.02*(s.rnd.Float64()*2-1))
	temp := s.tempC + 0.1*(s.rnd.Float64()*2-1)
	words := []uint16{
		uint16(int16(math.Round(flow * s.flowScale))),
		uint16(int16(math.Round(temp * s.tempScale))),
		0,
	}
	out := make([]byte, 0, n)
	for i := 0; len(out)+3 <= n; i++ {
		var w uint16
		if i < len(words) {
			w = words[i]
		}
		e := sensor.EncodeWord(w)
		out = append(out, e[:]...)
	}
	if fault && len(out) > 2 {
		out[2] ^= 0xFF
	}
	return out, nil
}
