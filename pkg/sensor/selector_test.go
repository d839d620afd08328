package sensor

import (
	"errors"
	"testing"
)

func TestSelectorWritesPort(t *testing.T) {
	bus := newFakeBus()
	sel, err := NewSelector(bus, 0x71, true, []int{2, 5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sel.Select(1); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(bus.ops) != 1 || bus.ops[0].addr != 0x71 || bus.ops[0].arg != 5 {
		t.Fatalf("ops = %+v", bus.ops)
	}
}

func TestSelectorRange(t *testing.T) {
	bus := newFakeBus()
	sel, _ := NewSelector(bus, DefaultMuxAddress, true, []int{0, 1})
	for _, ch := range []int{-1, 2, 8} {
		if err := sel.Select(ch); !errors.Is(err, ErrChannelRange) {
			t.Fatalf("select(%d) err = %v", ch, err)
		}
		if err := sel.SetEnabled(ch, false); !errors.Is(err, ErrChannelRange) {
			t.Fatalf("set enabled(%d) err = %v", ch, err)
		}
		if sel.Enabled(ch) {
			t.Fatalf("enabled(%d) = true", ch)
		}
	}
	if len(bus.ops) != 0 {
		t.Fatalf("bus touched: %+v", bus.ops)
	}
}

func TestSelectorNackIsReported(t *testing.T) {
	bus := newFakeBus()
	bus.failSelect[0] = true
	sel, _ := NewSelector(bus, DefaultMuxAddress, true, []int{0, 1})
	if err := sel.Select(0); !errors.Is(err, errNack) {
		t.Fatalf("err = %v", err)
	}
	if err := sel.Select(1); err != nil {
		t.Fatalf("other channel: %v", err)
	}
}

func TestSelectorWithoutMux(t *testing.T) {
	bus := newFakeBus()
	sel, err := NewSelector(bus, 0, false, []int{0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sel.Select(0); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(bus.ops) != 0 {
		t.Fatalf("bus touched: %+v", bus.ops)
	}
	if _, err := NewSelector(bus, 0, false, []int{0, 1}); err == nil {
		t.Fatalf("expected error for two channels without mux")
	}
}

func TestNewSelectorValidation(t *testing.T) {
	tests := []struct {
		name  string
		ports []int
	}{
		{"empty", nil},
		{"too many", []int{0, 1, 2, 3, 4, 5, 6, 7, 0}},
		{"port range", []int{8}},
		{"duplicate", []int{1, 1}},
	}
	for _, tt := range tests {
		if _, err := NewSelector(newFakeBus(), DefaultMuxAddress, true, tt.ports); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestSelectorToggle(t *testing.T) {
	sel, _ := NewSelector(newFakeBus(), DefaultMuxAddress, true, []int{0, 1, 2, 3})
	if !sel.Enabled(2) {
		t.Fatalf("channels start enabled")
	}
	_ = sel.SetEnabled(2, false)
	if sel.Enabled(2) || !sel.Enabled(1) {
		t.Fatalf("toggle leaked across channels")
	}
}
