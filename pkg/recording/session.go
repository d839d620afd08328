package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ericogr/flowsensor-logger/pkg/sensor"
	"github.com/google/uuid"
)

// ErrNoRecording is returned by export when there is no finished, non-empty
// recording.
var ErrNoRecording = errors.New("no recording available")

type State int

const (
	Idle State = iota
	Recording
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Row is one logged tick.
type Row struct {
	Elapsed  time.Duration
	Readings []sensor.Reading
}

// Log is a finished recording. It is never modified once handed out.
type Log struct {
	ID        string
	Channels  int
	StartedAt time.Time
	StoppedAt time.Time
	Rows      []Row
}

// Session gates which ticks are logged. Not safe for concurrent use.
type Session struct {
	state     State
	id        string
	channels  int
	maxRows   int
	rows      []Row
	dropped   int
	startedAt time.Time
	stoppedAt time.Time
}

// New returns an idle session for channels channels. maxRows caps the
// buffer; 0 means unbounded.
func New(channels, maxRows int) *Session {
	return &Session{channels: channels, maxRows: maxRows}
}

func (s *Session) State() State { return s.state }

func (s *Session) Recording() bool { return s.state == Recording }

// CSVReady reports whether Export would succeed.
func (s *Session) CSVReady() bool { return s.state == Stopped && len(s.rows) > 0 }

func (s *Session) ID() string { return s.id }

func (s *Session) Len() int { return len(s.rows) }

// Dropped counts rows refused by the max rows cap in the current recording.
func (s *Session) Dropped() int { return s.dropped }

// Start begins a new recording from any state. An in-progress or finished
// buffer is discarded; logs already returned by Finished stay intact.
func (s *Session) Start(now time.Time) {
	s.state = Recording
	s.id = uuid.NewString()
	s.rows = nil
	s.dropped = 0
	s.startedAt = now
	s.stoppedAt = time.Time{}
}

// Stop finalizes the buffer. It reports false when not recording.
func (s *Session) Stop(now time.Time) bool {
	if s.state != Recording {
		return false
	}
	s.state = Stopped
	s.stoppedAt = now
	return true
}

// OnSample appends one row when recording and reports whether it did.
// readings must hold one entry per channel.
func (s *Session) OnSample(readings []sensor.Reading, now time.Time) bool {
	if s.state != Recording {
		return false
	}
	if len(readings) != s.channels {
		return false
	}
	if s.maxRows > 0 && len(s.rows) >= s.maxRows {
		s.dropped++
		return false
	}
	s.rows = append(s.rows, Row{
		Elapsed:  now.Sub(s.startedAt),
		Readings: append([]sensor.Reading(nil), readings...),
	})
	return true
}

// Finished returns the stopped recording, or ErrNoRecording.
func (s *Session) Finished() (*Log, error) {
	if !s.CSVReady() {
		return nil, ErrNoRecording
	}
	return &Log{
		ID:        s.id,
		Channels:  s.channels,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
		Rows:      s.rows[:len(s.rows):len(s.rows)],
	}, nil
}

// Export writes the finished recording as CSV to w.
func (s *Session) Export(w io.Writer) error {
	l, err := s.Finished()
	if err != nil {
		return err
	}
	return l.WriteCSV(w)
}

func (l *Log) Filename() string { return "flowlog-" + l.ID + ".csv" }

func (l *Log) Header() []string {
	h := make([]string, 0, 1+3*l.Channels)
	h = append(h, "elapsed_s")
	for ch := 1; ch <= l.Channels; ch++ {
		h = append(h,
			fmt.Sprintf("ch%d_flow_ml_min", ch),
			fmt.Sprintf("ch%d_temp_c", ch),
			fmt.Sprintf("ch%d_ok", ch))
	}
	return h
}

// WriteCSV writes the header row followed by every row in insertion order.
func (l *Log) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(l.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, 0, 1+3*l.Channels)
	for i, row := range l.Rows {
		rec = rec[:0]
		rec = append(rec, strconv.FormatFloat(row.Elapsed.Seconds(), 'f', 3, 64))
		for _, r := range row.Readings {
			okv := "0"
			if r.OK {
				okv = "1"
			}
			rec = append(rec,
				strconv.FormatFloat(float64(r.FlowMlMin), 'f', 3, 32),
				strconv.FormatFloat(float64(r.TempC), 'f', 2, 32),
				okv)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
