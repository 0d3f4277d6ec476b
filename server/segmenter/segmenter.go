// Package segmenter turns a per-frame "behavior is active" signal into discrete events.
//
// Detections flicker. An animal drinking from a faucet will often be classified inactive
// for a few frames in the middle of a bout, because its head moved, or the detector missed it.
// The segmenter absorbs such gaps with a grace period, measured in frames after the most
// recent active frame. Only once the grace period expires is the event closed.
//
// Two bouts that are closer together than the grace period become a single event. There is
// no identity tracking, so this is true even if the two bouts are by different animals.
package segmenter

import (
	"fmt"

	"github.com/cyclopcam/behave/server/behavior"
)

const DefaultBaseExtensionFrames = 30
const DefaultExtensionIncrementFrames = 15

type Settings struct {
	BaseExtensionFrames      int64   // Number of inactive frames tolerated after the most recent active frame
	ExtensionIncrementFrames int64   // Added to the grace period every time the Confirmer fires
	FrameRate                float64 // Native frame rate of the source. Used only to convert frames into time.
}

func DefaultSettings() Settings {
	return Settings{
		BaseExtensionFrames:      DefaultBaseExtensionFrames,
		ExtensionIncrementFrames: DefaultExtensionIncrementFrames,
		FrameRate:                25,
	}
}

// Confirmer is a secondary signal, evaluated on every frame while an event is open.
// Each time it fires, the grace period of the open event grows by ExtensionIncrementFrames.
type Confirmer interface {
	Confirm(frame int64) bool
}

// NoConfirmation is a Confirmer that never fires
type NoConfirmation struct{}

func (NoConfirmation) Confirm(frame int64) bool {
	return false
}

// Event is one closed occurrence of a behavior
type Event struct {
	StartFrame int64             `json:"startFrame"`
	EndFrame   int64             `json:"endFrame"`
	Behavior   string            `json:"behavior"`
	FrameRate  float64           `json:"frameRate"`
	Snapshot   behavior.Snapshot `json:"snapshot"` // Participants as seen on StartFrame
}

// Duration in seconds
func (e *Event) Duration() float64 {
	return float64(e.EndFrame-e.StartFrame) / e.FrameRate
}

func (e *Event) StartMinutes() float64 {
	return FrameToMinutes(e.StartFrame, e.FrameRate)
}

func (e *Event) EndMinutes() float64 {
	return FrameToMinutes(e.EndFrame, e.FrameRate)
}

func (e *Event) DurationMinutes() float64 {
	return e.Duration() / 60
}

func (e *Event) String() string {
	return fmt.Sprintf("%v [%v - %v] (%.1f seconds)", e.Behavior, e.StartFrame, e.EndFrame, e.Duration())
}

func FrameToMinutes(frame int64, frameRate float64) float64 {
	return float64(frame) / frameRate / 60
}

// Segmenter is a two-state machine (idle and open).
// It is not safe for concurrent use. It is driven by the single frame loop that owns it.
type Segmenter struct {
	settings  Settings
	confirmer Confirmer

	open          bool
	current       Event
	lastActive    int64 // Most recent active frame of the open event
	confirmations int64 // Number of times the confirmer has fired during the open event
	lastFrame     int64 // Most recent frame passed to Step
}

// If confirmer is nil, then NoConfirmation is used
func NewSegmenter(settings Settings, confirmer Confirmer) *Segmenter {
	if confirmer == nil {
		confirmer = NoConfirmation{}
	}
	return &Segmenter{
		settings:  settings,
		confirmer: confirmer,
		lastFrame: -1,
	}
}

func (s *Segmenter) Settings() Settings {
	return s.settings
}

func (s *Segmenter) IsOpen() bool {
	return s.open
}

// Open returns a copy of the open event, with EndFrame set to the most recent frame.
// Returns false if no event is open.
func (s *Segmenter) Open() (Event, bool) {
	if !s.open {
		return Event{}, false
	}
	ev := s.current
	ev.EndFrame = s.lastFrame
	return ev, true
}

// Deadline is the last frame on which the open event can still absorb inactivity.
func (s *Segmenter) Deadline() int64 {
	return s.lastActive + s.settings.BaseExtensionFrames + s.confirmations*s.settings.ExtensionIncrementFrames
}

// Step advances the state machine by one frame.
// label and snapshot are only consumed when this frame opens a new event.
// Returns the event that was closed by this frame, or nil.
func (s *Segmenter) Step(frame int64, active bool, label string, snapshot behavior.Snapshot) *Event {
	s.lastFrame = frame
	if !s.open {
		if active {
			s.open = true
			s.current = Event{
				StartFrame: frame,
				EndFrame:   frame,
				Behavior:   label,
				FrameRate:  s.settings.FrameRate,
				Snapshot:   snapshot,
			}
			s.lastActive = frame
			s.confirmations = 0
		}
		return nil
	}

	if s.confirmer.Confirm(frame) {
		s.confirmations++
	}
	if active {
		s.lastActive = frame
		return nil
	}
	if frame <= s.Deadline() {
		return nil
	}
	return s.close(frame)
}

// Flush force-closes the open event at lastFrame, which should be the last frame seen.
// Returns nil if no event is open, so calling Flush more than once is harmless.
func (s *Segmenter) Flush(lastFrame int64) *Event {
	if !s.open {
		return nil
	}
	if lastFrame < s.lastFrame {
		lastFrame = s.lastFrame
	}
	return s.close(lastFrame)
}

func (s *Segmenter) close(frame int64) *Event {
	ev := s.current
	ev.EndFrame = frame
	s.open = false
	s.current = Event{}
	s.confirmations = 0
	return &ev
}
