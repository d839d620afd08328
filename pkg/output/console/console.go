package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/flowsensor-logger/pkg/output"
	"github.com/ericogr/flowsensor-logger/pkg/station"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

func (c *ConsoleOutput) Publish(s station.Snapshot) error {
	rec := ""
	if s.Recording {
		rec = fmt.Sprintf(" rec=%d", s.Rows)
	}
	for _, ch := range s.Channels {
		if !ch.Enabled {
			fmt.Fprintf(c.w, "%s channel=%d disabled\n", s.Time.Format(time.RFC3339), ch.Channel)
			continue
		}
		fmt.Fprintf(c.w, "%s channel=%d ok=%t flow=%.3f temp=%.2f mean10=%.3f rms10=%.3f cv10=%.2f%s\n",
			s.Time.Format(time.RFC3339), ch.Channel, ch.OK, ch.Flow1s, ch.Temp1s, ch.Mean10, ch.RMS10, ch.CV10, rec)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
