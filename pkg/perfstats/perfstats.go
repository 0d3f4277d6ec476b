// Package perfstats measures how long things take
package perfstats

import "time"

// TimeAccumulator accumulates samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Timings is a JSON friendly summary of a TimeAccumulator, in milliseconds
type Timings struct {
	Samples int64   `json:"samples"`
	AvgMS   float64 `json:"avgMS"`
	MaxMS   float64 `json:"maxMS"`
}

func (a *TimeAccumulator) Timings() Timings {
	return Timings{
		Samples: a.Samples,
		AvgMS:   milliseconds(a.Average()),
		MaxMS:   milliseconds(a.Max),
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
