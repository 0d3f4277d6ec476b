package eventdb

import (
	"fmt"

	"github.com/cyclopcam/behave/pkg/stats"
	"github.com/cyclopcam/behave/server/segmenter"
)

// Summary describes a set of events
type Summary struct {
	NumEvents       int            `json:"numEvents"`
	TotalMinutes    float64        `json:"totalMinutes"`    // Sum of event durations
	MeanSeconds     float64        `json:"meanSeconds"`     // Mean event duration
	StdDevSeconds   float64        `json:"stdDevSeconds"`   // Population standard deviation of event duration
	LongestSeconds  float64        `json:"longestSeconds"`  // Longest event
	ByBehavior      map[string]int `json:"byBehavior"`      // Number of events per behavior label
	CommonBehavior  string         `json:"commonBehavior"`  // Most frequent behavior label
	TwoTargetEvents int            `json:"twoTargetEvents"` // Events where a second target was present at the start
}

func Summarize(events []*segmenter.Event) Summary {
	s := Summary{
		NumEvents:  len(events),
		ByBehavior: map[string]int{},
	}
	durations := make([]float64, 0, len(events))
	labels := make([]string, 0, len(events))
	for _, ev := range events {
		d := ev.Duration()
		durations = append(durations, d)
		labels = append(labels, ev.Behavior)
		s.TotalMinutes += ev.DurationMinutes()
		s.LongestSeconds = max(s.LongestSeconds, d)
		s.ByBehavior[ev.Behavior]++
		if ev.Snapshot.Targets[1] != nil {
			s.TwoTargetEvents++
		}
	}
	s.MeanSeconds, _ = stats.MeanVar(durations)
	s.StdDevSeconds = stats.StdDev(durations)
	s.CommonBehavior, _ = stats.Mode(labels)
	return s
}

func (s Summary) String() string {
	if s.NumEvents == 0 {
		return "No events"
	}
	return fmt.Sprintf("%v events, %.2f minutes in total, mean %.1f seconds (σ %.1f), longest %.1f seconds",
		s.NumEvents, s.TotalMinutes, s.MeanSeconds, s.StdDevSeconds, s.LongestSeconds)
}
