// Package stats has descriptive statistics over samples
package stats

import (
	"math"

	"github.com/cyclopcam/behave/pkg/gen"
)

type Number interface {
	gen.Integer | gen.Float
}

// Returns (mean, variance) of the samples, or (0, 0) if there are none
func MeanVar[T Number](samples []T) (float64, float64) {
	mean := Mean(samples)
	return mean, Variance(samples, mean)
}

// Returns the mean of the samples, or 0 if there are none
func Mean[T Number](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}

// Returns the population variance of the samples
func Variance[T Number](samples []T, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		diff := float64(v) - mean
		sum += diff * diff
	}
	return sum / float64(len(samples))
}

func StdDev[T Number](samples []T) float64 {
	_, variance := MeanVar(samples)
	return math.Sqrt(variance)
}

// Returns the most frequent element, and its count.
// Ties are broken by the element that reached the winning count first.
func Mode[T comparable](src []T) (mode T, count int) {
	counts := make(map[T]int)
	for _, v := range src {
		counts[v]++
		if counts[v] > count {
			mode = v
			count = counts[v]
		}
	}
	return
}
