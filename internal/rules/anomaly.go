package rules

import (
	"fmt"
	"math"

	"github.com/GoLogware/loggate/internal/model"
)

// minBaselineSamples is how many observations the baseline needs before
// it is allowed to flag anything.
const minBaselineSamples = 5

// baselineCapacity bounds the rolling sample buffer per condition.
const baselineCapacity = 256

// baseline keeps a rolling sample of past metric observations and flags
// values that deviate from the mean by more than a sensitivity-scaled
// number of standard deviations. Deterministic by construction.
type baseline struct {
	samples []float64
	next    int
	full    bool
}

func (b *baseline) meanStd() (float64, float64, int) {
	n := len(b.samples)
	if n == 0 {
		return 0, 0, 0
	}
	sum := 0.0
	for _, v := range b.samples {
		sum += v
	}
	mean := sum / float64(n)
	varSum := 0.0
	for _, v := range b.samples {
		d := v - mean
		varSum += d * d
	}
	return mean, math.Sqrt(varSum / float64(n)), n
}

func (b *baseline) observe(v float64) {
	if len(b.samples) < baselineCapacity {
		b.samples = append(b.samples, v)
		return
	}
	b.samples[b.next] = v
	b.next = (b.next + 1) % baselineCapacity
	b.full = true
}

// deviationFactor maps sensitivity 1..10 onto the allowed number of
// standard deviations: 1 tolerates 5 sigma, 10 tolerates 0.5 sigma.
func deviationFactor(sensitivity int) float64 {
	k := (11.0 - float64(sensitivity)) / 2.0
	if k < 0.5 {
		k = 0.5
	}
	return k
}

// evalAnomaly compares the current metric value against the baseline,
// then folds the value into the baseline for future evaluations.
func evalAnomaly(c model.AnomalyCondition, b *baseline, records []*model.LogRecord) conditionResult {
	value := metricValue(records, c.Metric)
	mean, std, n := b.meanStd()
	b.observe(value)

	if n < minBaselineSamples {
		return conditionResult{}
	}
	threshold := deviationFactor(c.Sensitivity) * std
	if math.Abs(value-mean) <= threshold {
		return conditionResult{}
	}
	return conditionResult{
		met:     true,
		label:   fmt.Sprintf("anomaly(%s=%g, mean=%.2f, std=%.2f)", c.Metric, value, mean, std),
		matched: records,
	}
}
