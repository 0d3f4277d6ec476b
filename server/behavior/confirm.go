package behavior

import "github.com/cyclopcam/behave/pkg/nn"

// ClassConfirmer is a secondary signal that fires whenever the detector emits one of a set
// of confirmation classes (eg a dedicated "Pig-drinking" class from a second model) with
// enough confidence. It is fed every frame via Observe, and answers segmenter.Confirmer.
type ClassConfirmer struct {
	classes       nn.ClassSet
	minConfidence float32
	frame         int64
	fired         bool
}

func NewClassConfirmer(classes nn.ClassSet, minConfidence float32) *ClassConfirmer {
	return &ClassConfirmer{
		classes:       classes,
		minConfidence: minConfidence,
		frame:         -1,
	}
}

// Observe records whether the confirmation class is present on this frame
func (c *ClassConfirmer) Observe(frame int64, objects []nn.ObjectDetection) {
	c.frame = frame
	c.fired = false
	for _, obj := range objects {
		if c.classes.Contains(obj.Class) && obj.Confidence >= c.minConfidence {
			c.fired = true
			return
		}
	}
}

// Confirm returns true if the confirmation class was observed on exactly this frame
func (c *ClassConfirmer) Confirm(frame int64) bool {
	return c.fired && c.frame == frame
}
