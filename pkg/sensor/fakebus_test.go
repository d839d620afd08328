package sensor

import "errors"

var errNack = errors.New("nack")

type busOp struct {
	kind string // select, write, read
	addr uint16
	arg  int
	cmd  []byte
}

// fakeBus serves scripted frames per mux port and records every call.
type fakeBus struct {
	ops        []busOp
	port       int
	frames     map[int][]byte
	failSelect map[int]bool
	failRead   map[int]bool
	failWrite  bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{frames: map[int][]byte{}, failSelect: map[int]bool{}, failRead: map[int]bool{}}
}

func (b *fakeBus) Select(muxAddr uint16, channel int) error {
	b.ops = append(b.ops, busOp{kind: "select", addr: muxAddr, arg: channel})
	if b.failSelect[channel] {
		return errNack
	}
	b.port = channel
	return nil
}

func (b *fakeBus) WriteCommand(addr uint16, cmd []byte) error {
	b.ops = append(b.ops, busOp{kind: "write", addr: addr, cmd: append([]byte(nil), cmd...)})
	if b.failWrite {
		return errNack
	}
	return nil
}

func (b *fakeBus) ReadFrame(addr uint16, n int) ([]byte, error) {
	b.ops = append(b.ops, busOp{kind: "read", addr: addr, arg: n})
	if b.failRead[b.port] {
		return nil, errNack
	}
	f := b.frames[b.port]
	if len(f) > n {
		f = f[:n]
	}
	return append([]byte(nil), f...), nil
}

func frameOf(words ...uint16) []byte {
	out := make([]byte, 0, 3*len(words))
	for _, w := range words {
		e := EncodeWord(w)
		out = append(out, e[:]...)
	}
	return out
}

func testDriver(t interface{ Fatalf(string, ...any) }, bus *fakeBus, ports []int, layout FrameLayout) *Driver {
	sel, err := NewSelector(bus, DefaultMuxAddress, true, ports)
	if err != nil {
		t.Fatalf("selector: %v", err)
	}
	cfg := DefaultDriverConfig()
	cfg.Layout = layout
	cfg.SelectDelay = 0
	cfg.Settle = 0
	d, err := NewDriver(bus, sel, cfg)
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	return d
}
