package bench

import (
	"math"
	"slices"
	"time"

	"batchbench/metrics"
)

// SteadyTolerance is the largest relative deviation from the mean trial
// duration that still counts as steady.
const SteadyTolerance = 0.05

// MedianDuration picks the median trial. Even counts take the upper middle.
func MedianDuration(trials []time.Duration) time.Duration {
	if len(trials) == 0 {
		return 0
	}
	sorted := slices.Clone(trials)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// SteadyState checks if trial durations vary within tolerance of their mean.
func SteadyState(trials []time.Duration, tolerance float64) (bool, float64) {
	if len(trials) < 2 {
		return true, 0
	}
	mean := float64(metrics.Summarize("", trials).Mean)
	if mean == 0 {
		return false, 0
	}

	var maxDev float64
	for _, d := range trials {
		dev := math.Abs(float64(d)-mean) / mean
		if dev > maxDev {
			maxDev = dev
		}
	}
	return maxDev <= tolerance, maxDev
}

// Throughput is units or rows per second over elapsed.
func Throughput(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}
