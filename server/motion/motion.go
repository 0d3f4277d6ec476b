// Package motion smooths the movement of tracked objects between frames.
//
// Object detector boxes jitter by a few pixels from frame to frame, even when the object
// is perfectly still. If we computed a fresh movement vector on every frame, then a resting
// animal would appear to point in a random new direction every frame. Instead, we only accept
// a new movement vector once the object has moved further than MovementThreshold, and until
// then we keep reporting the last accepted vector.
//
// Each frame must follow the order Estimate, then IsStanding (and any other reads), then Commit.
package motion

import (
	"github.com/chewxy/math32"
	"github.com/cyclopcam/behave/pkg/nn"
)

// SlotID identifies a logical role that we track, such as "the subject".
// There is no identity tracking here. Whichever object fills the role on a given frame
// is treated as the same object as the previous occupant.
type SlotID string

const SlotSubject SlotID = "subject"

const DefaultMovementThreshold = 22
const DefaultStandingThreshold = 10

type Settings struct {
	MovementThreshold float32 // Minimum displacement (pixels) before we accept a new movement vector
	StandingThreshold float32 // Maximum change in movement magnitude (pixels) that is still considered "standing"
}

func DefaultSettings() Settings {
	return Settings{
		MovementThreshold: DefaultMovementThreshold,
		StandingThreshold: DefaultStandingThreshold,
	}
}

// SlotState is the state that we carry from one frame to the next, for one slot
type SlotState struct {
	PrevCenter nn.Point  `json:"prevCenter"`
	PrevVector nn.Vector `json:"prevVector"`
	Frames     int64     `json:"frames"` // Number of commits
}

// Estimator holds per-slot hysteresis state.
// It is owned by a single frame loop, and is not safe for concurrent use.
type Estimator struct {
	settings Settings
	slots    map[SlotID]*SlotState
}

func NewEstimator(settings Settings) *Estimator {
	return &Estimator{
		settings: settings,
		slots:    map[SlotID]*SlotState{},
	}
}

func (e *Estimator) Settings() Settings {
	return e.settings
}

// The zero state is what an unseen slot looks like: center (0,0) and no movement.
func (e *Estimator) state(slot SlotID) SlotState {
	if s := e.slots[slot]; s != nil {
		return *s
	}
	return SlotState{}
}

// Estimate returns the movement vector for the slot, given its center on this frame.
// If the object has moved less than MovementThreshold since the last commit, then the
// previously committed vector is returned unchanged.
// Estimate does not modify any state.
func (e *Estimator) Estimate(slot SlotID, center nn.Point) nn.Vector {
	prev := e.state(slot)
	if prev.PrevCenter.Distance(center) > e.settings.MovementThreshold {
		return center.Sub(prev.PrevCenter)
	}
	return prev.PrevVector
}

// IsStanding returns true if the magnitude of 'vector' is close to the magnitude of the
// last committed vector. This is a posture heuristic. It asks whether the motion is
// consistent from one frame to the next, rather than whether the object is literally still.
func (e *Estimator) IsStanding(slot SlotID, vector nn.Vector) bool {
	prev := e.state(slot)
	return math32.Abs(prev.PrevVector.Magnitude()-vector.Magnitude()) < e.settings.StandingThreshold
}

// Commit stores the vector and center for the next frame's comparison.
func (e *Estimator) Commit(slot SlotID, vector nn.Vector, center nn.Point) {
	s := e.slots[slot]
	if s == nil {
		s = &SlotState{}
		e.slots[slot] = s
	}
	s.PrevVector = vector
	s.PrevCenter = center
	s.Frames++
}

// Slot returns a copy of the slot state, and false if the slot has never been committed
func (e *Estimator) Slot(slot SlotID) (SlotState, bool) {
	s := e.slots[slot]
	if s == nil {
		return SlotState{}, false
	}
	return *s, true
}

// Reset forgets everything about the slot
func (e *Estimator) Reset(slot SlotID) {
	delete(e.slots, slot)
}
