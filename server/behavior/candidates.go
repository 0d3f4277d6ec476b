package behavior

import (
	"sort"

	"github.com/cyclopcam/behave/pkg/nn"
)

// MaxTargets is the number of target candidates that we consider on each frame
const MaxTargets = 2

// FixedTargetConfidence is the confidence we assign to targets that come from configuration
// instead of from the detector
const FixedTargetConfidence = 0.99

// Roles maps detector classes onto the roles that our rule understands
type Roles struct {
	Subject  nn.ClassSet // eg {"Pig-laying", "Pig-standing"}
	Target   nn.ClassSet // eg {"Water-faucets"}
	Artifact nn.ClassSet // eg {"feces"}
}

// Candidates are the objects from one frame that take part in classification
type Candidates struct {
	Subject  *nn.ObjectDetection // Most confident subject, or nil
	Targets  []nn.ObjectDetection
	Artifact *nn.ObjectDetection
}

// Rank by confidence. Ties are broken by position, so that the ranking is deterministic.
func rank(objects []nn.ObjectDetection) {
	sort.SliceStable(objects, func(i, j int) bool {
		a, b := &objects[i], &objects[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		ca, cb := a.Box.Center(), b.Box.Center()
		if ca.X != cb.X {
			return ca.X > cb.X
		}
		return ca.Y > cb.Y
	})
}

// SelectCandidates picks the subject, targets and artifact out of one frame's detections.
// Objects that fit none of the roles are ignored.
// If settings.FixedTargets is not empty, then those boxes replace whatever targets the detector found.
func SelectCandidates(objects []nn.ObjectDetection, roles *Roles, settings *Settings) Candidates {
	var subjects, targets, artifacts []nn.ObjectDetection
	for _, obj := range objects {
		switch {
		case roles.Subject.Contains(obj.Class):
			subjects = append(subjects, obj)
		case roles.Target.Contains(obj.Class):
			targets = append(targets, obj)
		case roles.Artifact.Contains(obj.Class):
			artifacts = append(artifacts, obj)
		}
	}

	if len(settings.FixedTargets) != 0 {
		targets = targets[:0]
		for _, ft := range settings.FixedTargets {
			targets = append(targets, nn.ObjectDetection{
				Class:      ft.Class,
				Box:        ft.Box,
				Confidence: FixedTargetConfidence,
			})
		}
	}

	rank(subjects)
	rank(targets)
	rank(artifacts)

	c := Candidates{}
	if len(subjects) != 0 {
		c.Subject = &subjects[0]
	}
	if len(targets) > MaxTargets {
		targets = targets[:MaxTargets]
	}
	if settings.TargetResizePercent != 0 {
		for i := range targets {
			targets[i].Box = targets[i].Box.Resize(settings.TargetResizePercent)
		}
	}
	c.Targets = targets
	if len(artifacts) != 0 {
		c.Artifact = &artifacts[0]
	}
	return c
}

// Participant is one object in an event snapshot
type Participant struct {
	Class      string   `json:"class"`
	Center     nn.Point `json:"center"`
	Confidence float32  `json:"confidence"`
}

// Snapshot is a fixed-shape record of the objects that took part in a behavior.
// Absent participants are nil.
type Snapshot struct {
	Subject  *Participant             `json:"subject"`
	Targets  [MaxTargets]*Participant `json:"targets"`
	Artifact *Participant             `json:"artifact"`
}

func makeParticipant(obj *nn.ObjectDetection) *Participant {
	if obj == nil {
		return nil
	}
	return &Participant{
		Class:      obj.Class,
		Center:     obj.Box.Center(),
		Confidence: obj.Confidence,
	}
}

// Snapshot copies the candidates into a Snapshot, which shares no memory with c
func (c *Candidates) Snapshot() Snapshot {
	s := Snapshot{
		Subject:  makeParticipant(c.Subject),
		Artifact: makeParticipant(c.Artifact),
	}
	for i := 0; i < len(c.Targets) && i < MaxTargets; i++ {
		s.Targets[i] = makeParticipant(&c.Targets[i])
	}
	return s
}
