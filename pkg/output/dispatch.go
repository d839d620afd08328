package output

import (
	"context"
	"errors"
	"time"

	"github.com/ericogr/flowsensor-logger/pkg/station"
	"go.uber.org/zap"
)

// Entry is an output with its own publish interval.
type Entry struct {
	Name       string
	Output     Output
	IntervalMs int
	last       time.Time
}

// Dispatcher fans snapshots out to outputs on its own goroutine so slow
// outputs never hold up acquisition.
type Dispatcher struct {
	entries []*Entry
	in      chan station.Snapshot
	log     *zap.SugaredLogger
	dropped int
}

func NewDispatcher(entries []Entry, log *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{in: make(chan station.Snapshot, 8), log: log}
	for i := range entries {
		e := entries[i]
		d.entries = append(d.entries, &e)
	}
	return d
}

// Offer queues snap without blocking; it is dropped when the queue is full.
func (d *Dispatcher) Offer(snap station.Snapshot) {
	select {
	case d.in <- snap:
	default:
		d.dropped++
		if d.dropped == 1 || d.dropped%100 == 0 {
			d.log.Warnw("output queue full, snapshot dropped", "dropped", d.dropped)
		}
	}
}

// Run publishes queued snapshots until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-d.in:
			d.Dispatch(snap)
		}
	}
}

// Dispatch publishes snap to every output whose interval has elapsed since
// its previous publish, measured on snapshot time.
func (d *Dispatcher) Dispatch(snap station.Snapshot) {
	for _, e := range d.entries {
		interval := time.Duration(e.IntervalMs) * time.Millisecond
		if !e.last.IsZero() && snap.Time.Sub(e.last) < interval {
			continue
		}
		e.last = snap.Time
		if err := e.Output.Publish(snap); err != nil {
			d.log.Errorw("publish failed", "output", e.Name, "error", err)
		}
	}
}

func (d *Dispatcher) Close() error {
	var errs []error
	for _, e := range d.entries {
		errs = append(errs, e.Output.Close())
	}
	return errors.Join(errs...)
}
