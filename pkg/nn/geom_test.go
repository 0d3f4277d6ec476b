package nn

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
)

func TestIOU(t *testing.T) {
	a := MakeBox(0, 0, 10, 10)
	b := MakeBox(5, 5, 15, 15)
	require.InDelta(t, 25.0/175.0, a.IOU(b), 1e-6)
	require.Equal(t, a.IOU(b), b.IOU(a))
	require.Equal(t, float32(1), a.IOU(a))

	// Disjoint
	c := MakeBox(20, 20, 30, 30)
	require.Equal(t, float32(0), a.IOU(c))

	// Touching edges have no area in common
	d := MakeBox(10, 0, 20, 10)
	require.Equal(t, float32(0), a.IOU(d))

	// Degenerate boxes must not divide by zero
	zero := MakeBox(5, 5, 5, 5)
	require.Equal(t, float32(0), zero.IOU(zero))
	inverted := MakeBox(10, 10, 0, 0)
	require.Equal(t, float32(0), inverted.IOU(inverted))
	require.Equal(t, float32(0), inverted.IOU(a))
}

func TestIOURange(t *testing.T) {
	boxes := []Box{
		MakeBox(0, 0, 10, 10),
		MakeBox(3, 1, 9, 20),
		MakeBox(-5, -5, 2, 2),
		MakeBox(100, 100, 101, 140),
		MakeBox(0, 0, 0, 10),
		MakeBox(4.5, 4.5, 5.5, 5.5),
	}
	for _, a := range boxes {
		for _, b := range boxes {
			iou := a.IOU(b)
			require.GreaterOrEqual(t, iou, float32(0))
			require.LessOrEqual(t, iou, float32(1))
			require.Equal(t, iou, b.IOU(a))
		}
	}
}

func TestCenterAndArea(t *testing.T) {
	b := MakeBox(10, 20, 31, 41)
	require.Equal(t, Point{20, 30}, b.Center())
	// Overhanging the top left corner of the frame
	require.Equal(t, Point{-2, -2}, MakeBox(-5, -5, 2, 2).Center())
	require.Equal(t, Point{-3, 0}, MakeBox(-7, -1, 1, 2).Center())
	require.Equal(t, float32(21*21), b.Area())
	require.Equal(t, float32(0), MakeBox(10, 10, 5, 20).Area())
}

func TestVectors(t *testing.T) {
	a := Vector{3, 4}
	require.Equal(t, float32(5), a.Magnitude())
	require.Equal(t, float32(25), a.Dot(a))
	require.Equal(t, float32(0), a.Angle(a))
	require.Equal(t, float32(0), a.Angle(Vector{}))
	require.Equal(t, float32(0), Vector{}.Angle(Vector{}))
	require.InDelta(t, math.Pi/2, Vector{1, 0}.Angle(Vector{0, 5}), 1e-6)
	require.InDelta(t, math.Pi, Vector{1, 0}.Angle(Vector{-2, 0}), 1e-6)
	require.Equal(t, Vector{5, 2}, Point{105, 102}.Sub(Point{100, 100}))
	require.InDelta(t, 5.385, Point{100, 100}.Distance(Point{105, 102}), 1e-3)
}

func TestResize(t *testing.T) {
	b := MakeBox(100, 100, 200, 300)
	r := b.Resize(10)
	require.Equal(t, MakeBox(95, 90, 205, 310), r)
	require.Equal(t, b.Center(), r.Center())
	// Shrink back
	s := b.Resize(-50)
	require.Equal(t, MakeBox(125, 150, 175, 250), s)
	// The original is untouched
	require.Equal(t, MakeBox(100, 100, 200, 300), b)
}

func TestValid(t *testing.T) {
	require.True(t, MakeBox(0, 0, 1, 1).Valid())
	require.True(t, MakeBox(1, 1, 1, 1).Valid())
	require.False(t, MakeBox(2, 0, 1, 1).Valid())
	require.False(t, MakeBox(0, 2, 1, 1).Valid())
	require.False(t, MakeBox(math32.NaN(), 0, 1, 1).Valid())
	require.False(t, MakeBox(0, 0, math32.Inf(1), 1).Valid())

	det := ObjectDetection{Class: "feces", Box: MakeBox(0, 0, 1, 1), Confidence: math32.NaN()}
	require.Error(t, det.Valid())
	det.Confidence = 0.5
	require.NoError(t, det.Valid())
}

func TestDetectionJSON(t *testing.T) {
	raw := `{"frame":30,"objects":[{"class":"Pig-standing","box":[1.5,2,30,40],"confidence":0.75}]}`
	var res DetectionResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res))
	require.Equal(t, int64(30), res.Frame)
	require.Len(t, res.Objects, 1)
	require.Equal(t, "Pig-standing", res.Objects[0].Class)
	require.Equal(t, MakeBox(1.5, 2, 30, 40), res.Objects[0].Box)
	require.Equal(t, float32(0.75), res.Objects[0].Confidence)

	b, err := json.Marshal(res.Objects[0].Box)
	require.NoError(t, err)
	require.Equal(t, "[1.5,2,30,40]", string(b))
}

func TestMergeDuplicates(t *testing.T) {
	objects := []ObjectDetection{
		{Class: "Water-faucets", Confidence: 0.6, Box: MakeBox(0, 0, 10, 10)},
		{Class: "Water-faucets", Confidence: 0.9, Box: MakeBox(1, 1, 11, 11)},
		{Class: "Pig-standing", Confidence: 0.8, Box: MakeBox(0, 0, 10, 10)},
		{Class: "Water-faucets", Confidence: 0.7, Box: MakeBox(50, 50, 60, 60)},
	}
	retain := MergeDuplicates(objects, 0.5)
	require.Equal(t, []int{1, 2, 3}, retain)
}
