package eventdb

import (
	"github.com/cyclopcam/behave/server/behavior"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Event is one closed behavior event, in the cross-run aggregate database
type Event struct {
	BaseModel
	RunID        string                            `json:"runID"`     // Unique per process run, so that events from many runs can be told apart
	CreatedAt    dbh.IntTime                       `json:"createdAt"` // Wall clock time when the event was closed
	Source       string                            `json:"source"`    // Name of the input, eg a filename
	Behavior     string                            `json:"behavior"`
	StartFrame   int64                             `json:"startFrame"`
	EndFrame     int64                             `json:"endFrame"`
	StartTimeMin float64                           `json:"startTimeMin"`
	EndTimeMin   float64                           `json:"endTimeMin"`
	DurationMin  float64                           `json:"durationMin"`
	Snapshot     *dbh.JSONField[behavior.Snapshot] `json:"snapshot"`
}

// Convert back into a segmenter event
func (e *Event) SegmenterEvent(frameRate float64) *segmenter.Event {
	ev := &segmenter.Event{
		StartFrame: e.StartFrame,
		EndFrame:   e.EndFrame,
		Behavior:   e.Behavior,
		FrameRate:  frameRate,
	}
	if e.Snapshot != nil {
		ev.Snapshot = e.Snapshot.Data
	}
	return ev
}
