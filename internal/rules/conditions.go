package rules

import (
	"fmt"
	"regexp"
	"time"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/shopspring/decimal"
)

// conditionResult is the outcome of evaluating one condition against
// the rule's current window state.
type conditionResult struct {
	met     bool
	label   string
	matched []*model.LogRecord
}

// metricValue computes an aggregate metric over the window's records.
// Missing data degrades to 0, never to an error: one bad record must
// not take down the engine.
func metricValue(records []*model.LogRecord, metric string) float64 {
	switch metric {
	case "error_count":
		n := 0
		for _, r := range records {
			if r.Level == model.LevelError || r.Level == model.LevelFatal {
				n++
			}
		}
		return float64(n)
	case "warning_count":
		n := 0
		for _, r := range records {
			if r.Level == model.LevelWarn {
				n++
			}
		}
		return float64(n)
	case "log_count":
		return float64(len(records))
	case "response_time":
		max := 0.0
		for _, r := range records {
			if r.Performance != nil && r.Performance.DurationMs > max {
				max = r.Performance.DurationMs
			}
		}
		return max
	case "avg_response_time":
		sum, n := 0.0, 0
		for _, r := range records {
			if r.Performance != nil {
				sum += r.Performance.DurationMs
				n++
			}
		}
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	case "unique_users":
		users := map[string]struct{}{}
		for _, r := range records {
			if r.UserID != "" {
				users[r.UserID] = struct{}{}
			}
		}
		return float64(len(users))
	default:
		return 0
	}
}

// compareThreshold applies the operator using decimal arithmetic so
// operator semantics stay exact at the boundary values.
func compareThreshold(value, threshold float64, operator string) bool {
	v := decimal.NewFromFloat(value)
	t := decimal.NewFromFloat(threshold)
	switch operator {
	case ">":
		return v.GreaterThan(t)
	case ">=":
		return v.GreaterThanOrEqual(t)
	case "<":
		return v.LessThan(t)
	case "<=":
		return v.LessThanOrEqual(t)
	case "==":
		return v.Equal(t)
	default:
		return false
	}
}

func evalThreshold(c model.ThresholdCondition, records []*model.LogRecord) conditionResult {
	value := metricValue(records, c.Metric)
	if !compareThreshold(value, c.Threshold, c.Operator) {
		return conditionResult{}
	}
	return conditionResult{
		met:     true,
		label:   fmt.Sprintf("threshold(%s %s %g, got %g)", c.Metric, c.Operator, c.Threshold, value),
		matched: records,
	}
}

func evalPattern(c model.PatternCondition, re *regexp.Regexp, records []*model.LogRecord) conditionResult {
	var matched []*model.LogRecord
	for _, rec := range records {
		for _, field := range c.Fields {
			val, ok := rec.FieldValue(field)
			if ok && re.MatchString(val) {
				matched = append(matched, rec)
				break
			}
		}
	}
	if len(matched) < c.MinOccurrences {
		return conditionResult{}
	}
	return conditionResult{
		met:     true,
		label:   fmt.Sprintf("pattern(%s x%d)", c.Regex, len(matched)),
		matched: matched,
	}
}

func evalFrequency(c model.FrequencyCondition, records []*model.LogRecord) conditionResult {
	var matched []*model.LogRecord
	for _, rec := range records {
		for _, lvl := range c.Levels {
			if rec.Level == lvl {
				matched = append(matched, rec)
				break
			}
		}
	}
	if len(matched) <= c.MaxFrequency {
		return conditionResult{}
	}
	return conditionResult{
		met:     true,
		label:   fmt.Sprintf("frequency(%d > %d)", len(matched), c.MaxFrequency),
		matched: matched,
	}
}

// chainMatcher holds the compiled per-step patterns of one chain condition.
type chainMatcher struct {
	cond  model.ChainCondition
	steps []*regexp.Regexp // nil entry = level-only step
}

func newChainMatcher(c model.ChainCondition) (*chainMatcher, error) {
	m := &chainMatcher{cond: c, steps: make([]*regexp.Regexp, len(c.Sequence))}
	for i, step := range c.Sequence {
		if step.MessagePattern == "" {
			continue
		}
		re, err := regexp.Compile(step.MessagePattern)
		if err != nil {
			return nil, err
		}
		m.steps[i] = re
	}
	return m, nil
}

func (m *chainMatcher) stepMatches(idx int, rec *model.LogRecord) bool {
	step := m.cond.Sequence[idx]
	if step.Level != "" && rec.Level != step.Level {
		return false
	}
	if m.steps[idx] != nil && !m.steps[idx].MatchString(rec.Message) {
		return false
	}
	return true
}

// eval scans the window in timestamp order. An exceeded inter-event gap
// resets the match and restarts from the current event; the full
// sequence must complete within MaxChainTimeMs of its first match.
func (m *chainMatcher) eval(records []*model.LogRecord) conditionResult {
	maxSpan := time.Duration(m.cond.MaxChainTimeMs) * time.Millisecond

	stepIdx := 0
	var firstMatch time.Time
	var prevMatch time.Time
	var matched []*model.LogRecord

	reset := func() {
		stepIdx = 0
		matched = matched[:0]
	}

	for _, rec := range records {
		if stepIdx > 0 {
			step := m.cond.Sequence[stepIdx]
			if step.MaxFromPreviousMs > 0 &&
				rec.Timestamp.Sub(prevMatch) > time.Duration(step.MaxFromPreviousMs)*time.Millisecond {
				reset()
			} else if rec.Timestamp.Sub(firstMatch) > maxSpan {
				reset()
			}
		}
		if !m.stepMatches(stepIdx, rec) {
			continue
		}
		if stepIdx == 0 {
			firstMatch = rec.Timestamp
		}
		prevMatch = rec.Timestamp
		matched = append(matched, rec)
		stepIdx++
		if stepIdx == len(m.cond.Sequence) {
			return conditionResult{
				met:     true,
				label:   fmt.Sprintf("chain(%d steps in %s)", stepIdx, prevMatch.Sub(firstMatch)),
				matched: append([]*model.LogRecord(nil), matched...),
			}
		}
	}
	return conditionResult{}
}
