package anomaly

import (
	"fmt"
	"strings"
	"sync"

	"github.com/septivank/sml-meter-logger/internal/reading"
)

// Result is the outcome of checking one reading.
type Result struct {
	Anomalous bool
	Reason    string
}

// Detector handles anomaly detection with configurable thresholds. It keeps
// the previous energy counter and a rolling window of summed line power.
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
	window                    int

	mu         sync.Mutex
	lastEnergy *float64
	history    []float64
}

// NewDetector creates a new anomaly detector with the specified thresholds.
// window bounds the number of power samples the rolling average is taken over.
func NewDetector(spikeThreshold float64, minDataPointsForDetection, window int) *Detector {
	if window < minDataPointsForDetection {
		window = minDataPointsForDetection
	}
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
		window:                    window,
	}
}

// Observe checks r against the readings seen before and records it.
func (d *Detector) Observe(r reading.Reading) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	var reasons []string

	if r.TotalEnergy != nil {
		value := r.TotalEnergy.Value
		if d.lastEnergy != nil {
			if isAnomaly, reason := DetectRegression(*d.lastEnergy, value); isAnomaly {
				reasons = append(reasons, reason)
			}
		}
		d.lastEnergy = &value
	}

	if sum, ok := r.LinePowerSum(); ok {
		value := float64(sum)
		if isAnomaly, reason := d.DetectAnomaly(value, d.history); isAnomaly {
			reasons = append(reasons, reason)
		}
		d.history = append(d.history, value)
		if len(d.history) > d.window {
			d.history = d.history[len(d.history)-d.window:]
		}
	}

	if len(reasons) == 0 {
		return Result{}
	}
	return Result{Anomalous: true, Reason: strings.Join(reasons, "; ")}
}

// DetectRegression reports a total energy counter that went backwards, e.g.
// after a meter swap.
func DetectRegression(previous, current float64) (bool, string) {
	if current < previous {
		return true, fmt.Sprintf("counter regression: total energy %.1f is below previous %.1f", current, previous)
	}
	return false, ""
}

// DetectAnomaly checks if the value is anomalous based on historical data
func (d *Detector) DetectAnomaly(value float64, historicalValues []float64) (bool, string) {
	// Need enough historical data for spike detection
	if len(historicalValues) < d.minDataPointsForDetection {
		return false, ""
	}

	sum := 0.0
	for _, v := range historicalValues {
		sum += v
	}
	average := sum / float64(len(historicalValues))

	// Detect sudden spike (>threshold x rolling average)
	if average > 0 && value > d.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike detected: value %.2f exceeds %.1fx rolling average %.2f",
			value, d.spikeThreshold, average)
	}

	return false, ""
}
