package anomaly

import (
	"fmt"
)

// Detector flags suspicious weight differences reported with pill-removal
// events. Flags are advisory and never block ingestion.
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// DetectAnomaly checks a weight difference against the device's recent ones.
// A removal must lighten the box, so a negative difference is always flagged.
func (d *Detector) DetectAnomaly(weightDiff float64, historicalDiffs []float64) (bool, string) {
	if weightDiff < 0 {
		return true, "negative weight difference"
	}

	// Need enough historical data for spike detection
	if len(historicalDiffs) < d.minDataPointsForDetection {
		return false, ""
	}

	// Calculate rolling average
	sum := 0.0
	for _, v := range historicalDiffs {
		if v < 0 {
			v = -v
		}
		sum += v
	}
	average := sum / float64(len(historicalDiffs))

	// Detect sudden spike (>threshold x rolling average)
	if average > 0 && weightDiff > d.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike detected: weight difference %.2f exceeds %.1fx rolling average %.2f",
			weightDiff, d.spikeThreshold, average)
	}

	return false, ""
}
