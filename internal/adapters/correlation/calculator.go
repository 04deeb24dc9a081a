package correlation

import (
	"errors"
	"fmt"
	"math"
)

// MinSamples is the smallest series Pearson accepts
const MinSamples = 3

// ErrTooFewSamples is returned when a series is shorter than MinSamples
var ErrTooFewSamples = errors.New("not enough samples for correlation")

// Pearson computes the Pearson correlation coefficient of two series.
// A series without variance correlates with nothing and yields 0.
func Pearson(xs, ys []float64) (float64, error) {
	if len(xs) != len(ys) {
		return 0, fmt.Errorf("series lengths differ: %d vs %d", len(xs), len(ys))
	}
	if len(xs) < MinSamples {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrTooFewSamples, len(xs), MinSamples)
	}

	n := float64(len(xs))

	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / n
	meanY := sumY / n

	var numerator, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		numerator += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0, nil
	}

	r := numerator / math.Sqrt(varX*varY)
	// float error can push |r| a hair past 1
	return math.Max(-1, math.Min(1, r)), nil
}
