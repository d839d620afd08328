// Package station runs the acquisition loop. All sensor, statistics and
// recording state is owned by the goroutine executing Run; other goroutines
// reach it only through Do, which queues work between ticks.
package station

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ericogr/flowsensor-logger/pkg/recording"
	"github.com/ericogr/flowsensor-logger/pkg/sensor"
	"github.com/ericogr/flowsensor-logger/pkg/stats"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("station stopped")

const DefaultInterval = time.Second

type Options struct {
	Interval time.Duration
	MaxRows  int
	// OnTick receives a snapshot after every completed tick. It runs on the
	// loop goroutine and must not block.
	OnTick func(Snapshot)
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

type Station struct {
	driver   *sensor.Driver
	sel      *sensor.Selector
	aggs     []stats.Aggregator
	session  *recording.Session
	interval time.Duration
	onTick   func(Snapshot)
	now      func() time.Time
	log      *zap.SugaredLogger

	reqs     chan func()
	done     chan struct{}
	failing  []bool
	ticks    uint64
	lastTick time.Time
}

func New(d *sensor.Driver, opts Options) *Station {
	n := d.Selector().Count()
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Station{
		driver:   d,
		sel:      d.Selector(),
		aggs:     make([]stats.Aggregator, n),
		session:  recording.New(n, opts.MaxRows),
		interval: opts.Interval,
		onTick:   opts.OnTick,
		now:      opts.Now,
		log:      opts.Logger,
		reqs:     make(chan func()),
		done:     make(chan struct{}),
		failing:  make([]bool, n),
	}
}

func (s *Station) Channels() int { return len(s.aggs) }

// Tick reads every channel once, updates the statistics and appends to the
// recording. A failing channel never affects the others.
func (s *Station) Tick() {
	readings := make([]sensor.Reading, len(s.aggs))
	for ch := range s.aggs {
		r, err := s.driver.ReadErr(ch)
		s.noteFault(ch, err)
		readings[ch] = r
		s.aggs[ch].OnSample(r)
	}
	now := s.now()
	s.session.OnSample(readings, now)
	s.ticks++
	s.lastTick = now
	if s.onTick != nil {
		s.onTick(s.Snapshot())
	}
}

func (s *Station) noteFault(ch int, err error) {
	switch {
	case err != nil && !s.failing[ch]:
		s.failing[ch] = true
		s.log.Warnw("channel read failed", "channel", ch+1, "error", err)
	case err != nil:
		s.log.Debugw("channel read failed", "channel", ch+1, "error", err)
	case s.failing[ch]:
		s.failing[ch] = false
		s.log.Infow("channel recovered", "channel", ch+1)
	}
}

// Run starts the sensors, polls them every interval and serves queued
// requests until ctx is done. Sensors are stopped on return.
func (s *Station) Run(ctx context.Context) error {
	defer close(s.done)
	if err := s.driver.StartAll(); err != nil {
		s.log.Warnw("sensor start", "error", err)
	}
	defer func() {
		if err := s.driver.StopAll(); err != nil {
			s.log.Warnw("sensor stop", "error", err)
		}
	}()
	s.log.Infow("acquisition started", "channels", len(s.aggs), "interval", s.interval)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("acquisition stopped")
			return nil
		case <-t.C:
			s.Tick()
		case fn := <-s.reqs:
			fn()
		}
	}
}

// Do runs fn on the loop goroutine between ticks and waits for it.
func (s *Station) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	req := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.reqs <- req:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns a snapshot taken between ticks.
func (s *Station) Current(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.Do(ctx, func() { snap = s.Snapshot() })
	return snap, err
}

func (s *Station) StartRecording(ctx context.Context) error {
	return s.Do(ctx, func() {
		s.session.Start(s.now())
		s.log.Infow("recording started", "session", s.session.ID())
	})
}

func (s *Station) StopRecording(ctx context.Context) error {
	return s.Do(ctx, func() {
		if s.session.Stop(s.now()) {
			s.log.Infow("recording stopped", "session", s.session.ID(), "rows", s.session.Len(), "dropped", s.session.Dropped())
		}
	})
}

// SetEnabled toggles a channel by zero-based index.
func (s *Station) SetEnabled(ctx context.Context, ch int, on bool) error {
	var err error
	if derr := s.Do(ctx, func() { err = s.sel.SetEnabled(ch, on) }); derr != nil {
		return derr
	}
	if err == nil {
		s.log.Infow("channel toggled", "channel", ch+1, "enabled", on)
	}
	return err
}

// FinishedLog returns the last stopped recording.
func (s *Station) FinishedLog(ctx context.Context) (*recording.Log, error) {
	var (
		l   *recording.Log
		err error
	)
	if derr := s.Do(ctx, func() { l, err = s.session.Finished() }); derr != nil {
		return nil, derr
	}
	return l, err
}

// Export writes the last stopped recording to w. The log is immutable, so
// writing happens off the loop goroutine.
func (s *Station) Export(ctx context.Context, w io.Writer) error {
	l, err := s.FinishedLog(ctx)
	if err != nil {
		return err
	}
	return l.WriteCSV(w)
}
