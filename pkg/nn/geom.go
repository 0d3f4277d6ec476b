package nn

import (
	"github.com/chewxy/math32"
)

// Point is an integer pixel coordinate
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt(float32((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y)))
}

// Sub returns the vector from b to p
func (p Point) Sub(b Point) Vector {
	return Vector{
		X: float32(p.X - b.X),
		Y: float32(p.Y - b.Y),
	}
}

// Vector is a 2D displacement in pixels
type Vector struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (v Vector) Dot(b Vector) float32 {
	return v.X*b.X + v.Y*b.Y
}

func (v Vector) Magnitude() float32 {
	return math32.Sqrt(v.X*v.X + v.Y*v.Y)
}

func (v Vector) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// Angle returns the angle between v and b in radians.
// If either vector has zero length, the angle is zero.
func (v Vector) Angle(b Vector) float32 {
	mag := v.Magnitude() * b.Magnitude()
	if mag == 0 {
		return 0
	}
	cos := v.Dot(b) / mag
	// Rounding can push us fractionally outside of the domain of acos
	cos = max(-1, min(1, cos))
	return math32.Acos(cos)
}

// Box is an axis aligned bounding box in pixel coordinates, as emitted by an object detector.
// A well formed box has X1 <= X2 and Y1 <= Y2.
// In JSON, a Box is the array [x1,y1,x2,y2].
type Box struct {
	X1 float32
	Y1 float32
	X2 float32
	Y2 float32
}

func MakeBox(x1, y1, x2, y2 float32) Box {
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func (r Box) Width() float32 {
	return r.X2 - r.X1
}

func (r Box) Height() float32 {
	return r.Y2 - r.Y1
}

// Area is zero for inverted or degenerate boxes
func (r Box) Area() float32 {
	w := r.X2 - r.X1
	h := r.Y2 - r.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Valid returns true if all coordinates are finite, and the box is not inverted
func (r Box) Valid() bool {
	for _, v := range [4]float32{r.X1, r.Y1, r.X2, r.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return r.X1 <= r.X2 && r.Y1 <= r.Y2
}

func (r Box) Intersection(b Box) Box {
	x1 := max(r.X1, b.X1)
	y1 := max(r.Y1, b.Y1)
	x2 := min(r.X2, b.X2)
	y2 := min(r.Y2, b.Y2)
	return Box{
		X1: x1,
		Y1: y1,
		X2: max(x1, x2),
		Y2: max(y1, y2),
	}
}

// Intersection over Union.
// Returns 0 when the union is empty, so degenerate boxes never divide by zero.
func (r Box) IOU(b Box) float32 {
	intersection := r.Intersection(b).Area()
	union := r.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return min(1, intersection/union)
}

// Center is the integer midpoint of the box, rounded down. Boxes that overhang the
// left or top edge of the frame have negative coordinates, so this is floor, not truncation.
func (r Box) Center() Point {
	return Point{
		X: int(math32.Floor((r.X1 + r.X2) / 2)),
		Y: int(math32.Floor((r.Y1 + r.Y2) / 2)),
	}
}

// Resize grows (or shrinks, for negative percent) the box about its center.
// Each edge moves by half of percent/100 of the width or height, so the total
// width and height change by percent/100.
func (r Box) Resize(percent float32) Box {
	dx := r.Width() * percent / 200
	dy := r.Height() * percent / 200
	return Box{
		X1: r.X1 - dx,
		Y1: r.Y1 - dy,
		X2: r.X2 + dx,
		Y2: r.Y2 + dy,
	}
}
