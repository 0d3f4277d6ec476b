package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// Scan all pairs of objects in 'input', and if they have the same class and an IoU of at least minIoU,
// then merge them into a single object, keeping the most confident of the pair.
// Detectors occasionally emit two slightly different boxes for one physical object, and
// if that object is a target, it would steal one of our two target slots.
// Returns the indices of the objects that should be retained, in their original order.
func MergeDuplicates(input []ObjectDetection, minIoU float32) []int {
	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(input))
	for _, b := range input {
		fb.Add(b.Box.X1, b.Box.Y1, b.Box.X2, b.Box.Y2)
	}
	fb.Finish()

	// Visit the most confident objects first, so that they are the ones that survive
	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return input[order[a]].Confidence > input[order[b]].Confidence
	})

	deleted := map[int]bool{}
	for _, i := range order {
		if deleted[i] {
			continue
		}
		in := &input[i]
		for _, j := range fb.Search(in.Box.X1, in.Box.Y1, in.Box.X2, in.Box.Y2) {
			if i == j || deleted[j] {
				continue
			}
			if input[j].Class != in.Class {
				continue
			}
			if in.Box.IOU(input[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}

	retain := make([]int, 0, len(input))
	for i := range input {
		if !deleted[i] {
			retain = append(retain, i)
		}
	}
	return retain
}
