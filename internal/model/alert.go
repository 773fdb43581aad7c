package model

import (
	"time"
)

// TriggeredAlert is emitted once per non-suppressed rule trigger. It is
// immutable after creation; action dispatchers only read it.
type TriggeredAlert struct {
	ID             string                 `json:"id"`
	RuleID         string                 `json:"rule_id"`
	RuleName       string                 `json:"rule_name"`
	Severity       Severity               `json:"severity"`
	TriggeredAt    time.Time              `json:"triggered_at"`
	TriggerRecords []*LogRecord           `json:"trigger_records"`
	ConditionsMet  []string               `json:"conditions_met"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
}

// RuleStats is the per-rule evaluation counter set.
type RuleStats struct {
	RuleID          string     `json:"rule_id"`
	TotalEvaluated  int64      `json:"total_evaluated"`
	TotalTriggered  int64      `json:"total_triggered"`
	TotalSuppressed int64      `json:"total_suppressed"`
	LastTriggered   *time.Time `json:"last_triggered,omitempty"`
}

// EngineStats aggregates counters across all registered rules.
type EngineStats struct {
	Rules           int         `json:"rules"`
	EnabledRules    int         `json:"enabled_rules"`
	TotalTriggered  int64       `json:"total_triggered"`
	TotalSuppressed int64       `json:"total_suppressed"`
	PerRule         []RuleStats `json:"per_rule"`
}
