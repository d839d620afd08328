// Package stats keeps trailing statistics over the last accepted samples of
// one channel. It counts samples, not time: a 10-sample window is a
// 10-second statistic only when fed at 1 Hz.
package stats

import (
	"math"

	"github.com/ericogr/flowsensor-logger/pkg/sensor"
)

const (
	WindowSize = 10
	// meanEpsilon bounds |mean| below which CV is reported as 0.
	meanEpsilon = 1e-6
)

// Aggregator owns the rolling window of one channel. The zero value is
// ready to use.
type Aggregator struct {
	window [WindowSize]float32
	head   int // index of the newest sample
	n      int
	latest sensor.Reading
}

// OnSample records r as the latest reading. Only OK readings enter the
// window; failures leave the statistics untouched.
func (a *Aggregator) OnSample(r sensor.Reading) {
	a.latest = r
	if !r.OK {
		return
	}
	a.head = (a.head + WindowSize - 1) % WindowSize
	a.window[a.head] = r.FlowMlMin
	if a.n < WindowSize {
		a.n++
	}
}

// Latest returns the most recent reading's values, accepted or not.
func (a *Aggregator) Latest() (flow, temp float32, ok bool) {
	return a.latest.FlowMlMin, a.latest.TempC, a.latest.OK
}

func (a *Aggregator) LatestReading() sensor.Reading { return a.latest }

func (a *Aggregator) Len() int { return a.n }

// Values returns the windowed flow values, newest first.
func (a *Aggregator) Values() []float32 {
	out := make([]float32, a.n)
	for i := range out {
		out[i] = a.window[(a.head+i)%WindowSize]
	}
	return out
}

func (a *Aggregator) Mean() float32 {
	if a.n == 0 {
		return 0
	}
	var sum float32
	for i := 0; i < a.n; i++ {
		sum += a.window[(a.head+i)%WindowSize]
	}
	return sum / float32(a.n)
}

func (a *Aggregator) RMS() float32 {
	if a.n == 0 {
		return 0
	}
	var sq float32
	for i := 0; i < a.n; i++ {
		v := a.window[(a.head+i)%WindowSize]
		sq += v * v
	}
	return float32(math.Sqrt(float64(sq / float32(a.n))))
}

// CV is the population standard deviation over the mean.
func (a *Aggregator) CV() float32 {
	mean := a.Mean()
	if a.n == 0 || float32(math.Abs(float64(mean))) < meanEpsilon {
		return 0
	}
	var ss float32
	for i := 0; i < a.n; i++ {
		d := a.window[(a.head+i)%WindowSize] - mean
		ss += d * d
	}
	return float32(math.Sqrt(float64(ss/float32(a.n)))) / mean
}

// Reset clears the window and the latest reading.
func (a *Aggregator) Reset() { *a = Aggregator{} }
