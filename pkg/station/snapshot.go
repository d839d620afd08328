package station

import "time"

type ChannelSnapshot struct {
	Channel int     `json:"channel"`
	Flow1s  float32 `json:"flow_1s"`
	Temp1s  float32 `json:"temp_1s"`
	Mean10  float32 `json:"mean10"`
	RMS10   float32 `json:"rms10"`
	CV10    float32 `json:"cv10"`
	Flags   uint16  `json:"flags,omitempty"`
	OK      bool    `json:"ok"`
	Enabled bool    `json:"enabled"`
}

// Snapshot is a read-only view of every channel and the recording state
// as of the end of the last completed tick.
type Snapshot struct {
	Channels  []ChannelSnapshot `json:"channels"`
	Recording bool              `json:"recording"`
	CSVReady  bool              `json:"csv_ready"`
	Session   string            `json:"session,omitempty"`
	Rows      int               `json:"rows"`
	Tick      uint64            `json:"tick"`
	Time      time.Time         `json:"time"`
}

// Snapshot projects the current state. It mutates nothing and must be
// called from the loop goroutine (or before Run starts).
func (s *Station) Snapshot() Snapshot {
	out := Snapshot{
		Channels:  make([]ChannelSnapshot, len(s.aggs)),
		Recording: s.session.Recording(),
		CSVReady:  s.session.CSVReady(),
		Rows:      s.session.Len(),
		Tick:      s.ticks,
		Time:      s.lastTick,
	}
	if out.Recording || out.CSVReady {
		out.Session = s.session.ID()
	}
	for ch := range s.aggs {
		a := &s.aggs[ch]
		latest := a.LatestReading()
		out.Channels[ch] = ChannelSnapshot{
			Channel: ch + 1,
			Flow1s:  latest.FlowMlMin,
			Temp1s:  latest.TempC,
			Mean10:  a.Mean(),
			RMS10:   a.RMS(),
			CV10:    a.CV(),
			Flags:   latest.Flags,
			OK:      latest.OK,
			Enabled: s.sel.Enabled(ch),
		}
	}
	return out
}
