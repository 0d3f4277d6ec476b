// Package behavior decides, frame by frame, whether the subject is busy with a behavior
// such as drinking from a water faucet.
package behavior

import (
	"fmt"

	"github.com/cyclopcam/behave/pkg/nn"
	"github.com/cyclopcam/behave/server/motion"
)

const DefaultIoUThreshold = 0.0035
const DefaultAlignmentThreshold = 600
const DefaultConfidenceThreshold = 0.45
const DefaultBehavior = "Drinking"

// A target whose position is known up front, instead of being detected on every frame
type FixedTarget struct {
	Class string `json:"class"`
	Box   nn.Box `json:"box"`
}

type Settings struct {
	IoUThreshold        float32       // Subject/target IoU must be greater than this
	AlignmentThreshold  float32       // dot(movement, subject->target) must be at least this. Raw pixel units, not normalized.
	ConfidenceThreshold float32       // Subject confidence must be at least this
	Behavior            string        // Label for the behavior, eg "Drinking"
	TargetResizePercent float32       // Grow target boxes by this percentage, to compensate for tight detections
	FixedTargets        []FixedTarget // If not empty, these replace detected targets
}

func DefaultSettings() Settings {
	return Settings{
		IoUThreshold:        DefaultIoUThreshold,
		AlignmentThreshold:  DefaultAlignmentThreshold,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		Behavior:            DefaultBehavior,
	}
}

// StandingTester is the part of the motion estimator that the classifier reads
type StandingTester interface {
	IsStanding(slot motion.SlotID, vector nn.Vector) bool
}

// Criteria are the individual measurements of the rule, for one subject/target pair
type Criteria struct {
	IoU        float32 `json:"iou"`
	Dot        float32 `json:"dot"`
	Standing   bool    `json:"standing"`
	Confidence float32 `json:"confidence"`
	Pass       bool    `json:"pass"`
}

func (c Criteria) String() string {
	return fmt.Sprintf("IoU: %.4f, Dot: %.1f, Standing: %v, Confidence: %.3f", c.IoU, c.Dot, c.Standing, c.Confidence)
}

// Decision is the classification of a single frame
type Decision struct {
	Active   bool       `json:"active"`
	Behavior string     `json:"behavior"` // Empty when not active
	Target   int        `json:"target"`   // Index into Candidates.Targets of the target that satisfied the rule, or -1
	Criteria []Criteria `json:"criteria"` // One per target that was evaluated
}

// Classifier applies a conjunctive rule to the subject and each target:
//
//  1. The subject overlaps the target (IoU)
//  2. The subject is moving toward the target (dot product of movement and direction to target)
//  3. The subject's posture is stable (motion.Estimator.IsStanding)
//  4. The detector is confident about the subject
//
// Overlap on its own fires whenever an animal walks past the target, which is why
// we also require direction and posture.
type Classifier struct {
	settings Settings
	motion   StandingTester
	slot     motion.SlotID
}

func NewClassifier(settings Settings, motionState StandingTester, slot motion.SlotID) *Classifier {
	return &Classifier{
		settings: settings,
		motion:   motionState,
		slot:     slot,
	}
}

func (c *Classifier) Settings() *Settings {
	return &c.settings
}

// Classify evaluates the rule against each target in rank order, stopping at the first success.
// 'movement' is this frame's movement vector for the subject, as returned by motion.Estimator.Estimate.
// The motion estimator must not have been committed yet for this frame.
func (c *Classifier) Classify(cand *Candidates, movement nn.Vector) Decision {
	d := Decision{
		Target: -1,
	}
	if cand.Subject == nil {
		return d
	}

	subjectCenter := cand.Subject.Box.Center()
	standing := c.motion.IsStanding(c.slot, movement)

	for i := range cand.Targets {
		target := &cand.Targets[i]
		crit := Criteria{
			IoU:        cand.Subject.Box.IOU(target.Box),
			Dot:        movement.Dot(target.Box.Center().Sub(subjectCenter)),
			Standing:   standing,
			Confidence: cand.Subject.Confidence,
		}
		crit.Pass = crit.IoU > c.settings.IoUThreshold &&
			crit.Dot >= c.settings.AlignmentThreshold &&
			crit.Standing &&
			crit.Confidence >= c.settings.ConfidenceThreshold
		d.Criteria = append(d.Criteria, crit)
		if crit.Pass {
			d.Active = true
			d.Behavior = c.settings.Behavior
			d.Target = i
			break
		}
	}
	return d
}
