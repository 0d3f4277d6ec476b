// Package nn is the interface layer between an external object detector and our analysis.
// The detector itself is a black box. We only see the labelled boxes that it emits.
package nn

import (
	"encoding/json"
	"fmt"

	"github.com/chewxy/math32"
)

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Results of an NN object detection run on a single frame
type DetectionResult struct {
	Frame   int64             `json:"frame"` // Frame number in the native frame rate of the video
	Objects []ObjectDetection `json:"objects"`
}

// Valid returns nil if the detection can be used for analysis
func (d *ObjectDetection) Valid() error {
	if !d.Box.Valid() {
		return fmt.Errorf("Invalid box [%v,%v,%v,%v]", d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	}
	if math32.IsNaN(d.Confidence) || math32.IsInf(d.Confidence, 0) {
		return fmt.Errorf("Invalid confidence %v", d.Confidence)
	}
	return nil
}

func (r Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float32{r.X1, r.Y1, r.X2, r.Y2})
}

func (r *Box) UnmarshalJSON(b []byte) error {
	var v [4]float32
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	return nil
}

// ClassSet is a set of class names, such as {"Pig-laying", "Pig-standing"}
type ClassSet map[string]bool

func NewClassSet(classes ...string) ClassSet {
	s := ClassSet{}
	for _, c := range classes {
		s[c] = true
	}
	return s
}

func (s ClassSet) Contains(class string) bool {
	return s[class]
}
