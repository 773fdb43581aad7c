package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Severity classifies rules, alerts and audit entries.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ConditionKind discriminates the condition union.
type ConditionKind string

const (
	KindThreshold ConditionKind = "threshold"
	KindPattern   ConditionKind = "pattern"
	KindFrequency ConditionKind = "frequency"
	KindAnomaly   ConditionKind = "anomaly"
	KindChain     ConditionKind = "chain"
)

// Condition is the sealed union of rule condition variants. Each variant
// declares the sliding window it needs; the engine keys its windows by
// (Kind, Window) per rule.
type Condition interface {
	Kind() ConditionKind
	Window() time.Duration
	Validate() error
}

// ThresholdCondition compares an aggregate metric over the window
// against a fixed threshold.
type ThresholdCondition struct {
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	WindowMs  int64   `json:"window_ms"`
	Operator  string  `json:"operator"` // >, >=, <, <=, ==
}

func (c ThresholdCondition) Kind() ConditionKind { return KindThreshold }
func (c ThresholdCondition) Window() time.Duration { return time.Duration(c.WindowMs) * time.Millisecond }

func (c ThresholdCondition) Validate() error {
	if c.Metric == "" {
		return fmt.Errorf("threshold condition: metric is required")
	}
	if c.WindowMs <= 0 {
		return fmt.Errorf("threshold condition: window_ms must be positive")
	}
	switch c.Operator {
	case ">", ">=", "<", "<=", "==":
		return nil
	default:
		return fmt.Errorf("threshold condition: unknown operator %q", c.Operator)
	}
}

// PatternCondition counts regex matches over selected fields.
type PatternCondition struct {
	Regex          string   `json:"regex"`
	Fields         []string `json:"fields"`
	MinOccurrences int      `json:"min_occurrences"`
	WindowMs       int64    `json:"window_ms"`
}

func (c PatternCondition) Kind() ConditionKind { return KindPattern }
func (c PatternCondition) Window() time.Duration { return time.Duration(c.WindowMs) * time.Millisecond }

func (c PatternCondition) Validate() error {
	if _, err := regexp.Compile(c.Regex); err != nil {
		return fmt.Errorf("pattern condition: invalid regex: %w", err)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("pattern condition: at least one field is required")
	}
	if c.MinOccurrences <= 0 {
		return fmt.Errorf("pattern condition: min_occurrences must be positive")
	}
	if c.WindowMs <= 0 {
		return fmt.Errorf("pattern condition: window_ms must be positive")
	}
	return nil
}

// FrequencyCondition triggers when too many records of given levels
// arrive inside the window.
type FrequencyCondition struct {
	Levels       []Level `json:"levels"`
	MaxFrequency int     `json:"max_frequency"`
	WindowMs     int64   `json:"window_ms"`
}

func (c FrequencyCondition) Kind() ConditionKind { return KindFrequency }
func (c FrequencyCondition) Window() time.Duration { return time.Duration(c.WindowMs) * time.Millisecond }

func (c FrequencyCondition) Validate() error {
	if len(c.Levels) == 0 {
		return fmt.Errorf("frequency condition: at least one level is required")
	}
	if c.MaxFrequency <= 0 {
		return fmt.Errorf("frequency condition: max_frequency must be positive")
	}
	if c.WindowMs <= 0 {
		return fmt.Errorf("frequency condition: window_ms must be positive")
	}
	return nil
}

// AnomalyCondition compares the current metric value against a rolling
// mean/std-dev baseline built over the historical window. Sensitivity
// runs 1 (loose) to 10 (tight).
type AnomalyCondition struct {
	Metric             string `json:"metric"`
	Sensitivity        int    `json:"sensitivity"`
	HistoricalWindowMs int64  `json:"historical_window_ms"`
}

func (c AnomalyCondition) Kind() ConditionKind { return KindAnomaly }
func (c AnomalyCondition) Window() time.Duration {
	return time.Duration(c.HistoricalWindowMs) * time.Millisecond
}

func (c AnomalyCondition) Validate() error {
	if c.Metric == "" {
		return fmt.Errorf("anomaly condition: metric is required")
	}
	if c.Sensitivity < 1 || c.Sensitivity > 10 {
		return fmt.Errorf("anomaly condition: sensitivity must be in [1,10]")
	}
	if c.HistoricalWindowMs <= 0 {
		return fmt.Errorf("anomaly condition: historical_window_ms must be positive")
	}
	return nil
}

// ChainStep is one step of an ordered event sequence.
type ChainStep struct {
	Level             Level  `json:"level,omitempty"`
	MessagePattern    string `json:"message_pattern"`
	MaxFromPreviousMs int64  `json:"max_from_previous_ms,omitempty"`
}

// ChainCondition matches an ordered sequence of events. A step arriving
// later than its max gap resets the match; the whole sequence must fit
// inside MaxChainTimeMs measured from its first matched event.
type ChainCondition struct {
	Sequence       []ChainStep `json:"sequence"`
	MaxChainTimeMs int64       `json:"max_chain_time_ms"`
}

func (c ChainCondition) Kind() ConditionKind { return KindChain }
func (c ChainCondition) Window() time.Duration { return time.Duration(c.MaxChainTimeMs) * time.Millisecond }

func (c ChainCondition) Validate() error {
	if len(c.Sequence) < 2 {
		return fmt.Errorf("chain condition: sequence needs at least two steps")
	}
	if c.MaxChainTimeMs <= 0 {
		return fmt.Errorf("chain condition: max_chain_time_ms must be positive")
	}
	for i, step := range c.Sequence {
		if step.MessagePattern == "" && step.Level == "" {
			return fmt.Errorf("chain condition: step %d has no level and no message pattern", i)
		}
		if step.MessagePattern != "" {
			if _, err := regexp.Compile(step.MessagePattern); err != nil {
				return fmt.Errorf("chain condition: step %d invalid pattern: %w", i, err)
			}
		}
	}
	return nil
}

// ConditionList carries the tagged-union JSON encoding: each element is
// an object with a "type" discriminator next to the variant's fields.
type ConditionList []Condition

type conditionEnvelope struct {
	Type ConditionKind `json:"type"`
}

func (l *ConditionList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(ConditionList, 0, len(raws))
	for i, raw := range raws {
		var env conditionEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		var cond Condition
		switch env.Type {
		case KindThreshold:
			var c ThresholdCondition
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			cond = c
		case KindPattern:
			var c PatternCondition
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			cond = c
		case KindFrequency:
			var c FrequencyCondition
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			cond = c
		case KindAnomaly:
			var c AnomalyCondition
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			cond = c
		case KindChain:
			var c ChainCondition
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			cond = c
		default:
			return fmt.Errorf("condition %d: unknown type %q", i, env.Type)
		}
		out = append(out, cond)
	}
	*l = out
	return nil
}

func (l ConditionList) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(l))
	for _, cond := range l {
		body, err := json.Marshal(cond)
		if err != nil {
			return nil, err
		}
		// Splice the discriminator into the variant's own object.
		var m map[string]interface{}
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		m["type"] = cond.Kind()
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

// RuleFilters gate which records a rule sees at all. Empty lists mean
// no restriction on that axis.
type RuleFilters struct {
	Levels   []Level  `json:"levels,omitempty"`
	Domains  []string `json:"domains,omitempty"`
	Services []string `json:"services,omitempty"`
	UserIDs  []string `json:"user_ids,omitempty"`
}

// Matches reports whether the record passes every configured allow-list.
func (f *RuleFilters) Matches(rec *LogRecord) bool {
	if f == nil {
		return true
	}
	if len(f.Levels) > 0 && !containsLevel(f.Levels, rec.Level) {
		return false
	}
	if len(f.Domains) > 0 && !containsString(f.Domains, rec.Domain) {
		return false
	}
	if len(f.Services) > 0 && !containsString(f.Services, rec.Service) {
		return false
	}
	if len(f.UserIDs) > 0 && !containsString(f.UserIDs, rec.UserID) {
		return false
	}
	return true
}

func containsLevel(levels []Level, l Level) bool {
	for _, v := range levels {
		if v == l {
			return true
		}
	}
	return false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// AlertRule is the declarative configuration of one alerting rule.
type AlertRule struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Severity         Severity      `json:"severity"`
	Conditions       ConditionList `json:"conditions"`
	Filters          *RuleFilters  `json:"filters,omitempty"`
	Actions          []string      `json:"actions"`
	Enabled          bool          `json:"enabled"`
	CooldownMs       int64         `json:"cooldown_ms,omitempty"`
	MaxAlertsPerHour int           `json:"max_alerts_per_hour,omitempty"`
}

// Cooldown returns the configured cooldown as a duration.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMs) * time.Millisecond
}

// Validate rejects malformed rules before activation.
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: conditions must not be empty", r.ID)
	}
	for _, cond := range r.Conditions {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	if r.CooldownMs < 0 {
		return fmt.Errorf("rule %s: cooldown_ms must not be negative", r.ID)
	}
	if r.MaxAlertsPerHour < 0 {
		return fmt.Errorf("rule %s: max_alerts_per_hour must not be negative", r.ID)
	}
	return nil
}
