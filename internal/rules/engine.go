// Package rules implements the alert rule evaluation engine: per-rule
// sliding windows, the condition union, suppression, and best-effort
// action dispatch.
package rules

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/GoLogware/loggate/internal/correlation"
	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/apperrors"
	"github.com/GoLogware/loggate/internal/pkg/logger"
	"github.com/GoLogware/loggate/internal/pkg/metrics"
	"github.com/google/uuid"
)

// maxTriggerRecords caps how many window records ride along on an alert.
const maxTriggerRecords = 20

// Dispatcher delivers a triggered alert to one named action. Failures
// are reported per action and never abort the other actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, action string, alert *model.TriggeredAlert) error
}

type windowKey struct {
	kind model.ConditionKind
	dur  time.Duration
}

// ruleState is the engine-private mutable state of one registered rule.
// Windows are keyed by (condition kind, window duration) so conditions
// declaring the same pair share one window and observe consistent state.
type ruleState struct {
	rule          *model.AlertRule
	windows       map[windowKey]*window
	patterns      map[int]*regexp.Regexp
	chains        map[int]*chainMatcher
	baselines     map[int]*baseline
	lastTriggered time.Time
	hourly        []time.Time
	stats         model.RuleStats
}

// Engine consumes the record stream and emits triggered alerts.
// All rule state is guarded by one mutex; window insertion, pruning and
// evaluation are atomic relative to concurrent records. Action dispatch
// happens outside the lock.
type Engine struct {
	mu               sync.Mutex
	rules            map[string]*ruleState
	dispatcher       Dispatcher
	maxWindowRecords int
	now              func() time.Time
	log              *slog.Logger
}

func NewEngine(maxWindowRecords int, dispatcher Dispatcher) *Engine {
	if maxWindowRecords <= 0 {
		maxWindowRecords = 10000
	}
	return &Engine{
		rules:            make(map[string]*ruleState),
		dispatcher:       dispatcher,
		maxWindowRecords: maxWindowRecords,
		now:              time.Now,
		log:              logger.Named("rules"),
	}
}

// Register validates and activates a rule. Configuration errors surface
// synchronously; a duplicate id is rejected, never silently replaced.
func (e *Engine) Register(rule *model.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return apperrors.NewInvalidRule(err.Error())
	}

	st := &ruleState{
		rule:      rule,
		windows:   make(map[windowKey]*window),
		patterns:  make(map[int]*regexp.Regexp),
		chains:    make(map[int]*chainMatcher),
		baselines: make(map[int]*baseline),
		stats:     model.RuleStats{RuleID: rule.ID},
	}
	for i, cond := range rule.Conditions {
		key := windowKey{kind: cond.Kind(), dur: cond.Window()}
		if _, ok := st.windows[key]; !ok {
			st.windows[key] = newWindow(cond.Window(), e.maxWindowRecords)
		}
		switch c := cond.(type) {
		case model.PatternCondition:
			re, err := regexp.Compile(c.Regex)
			if err != nil {
				return apperrors.NewInvalidRule(err.Error())
			}
			st.patterns[i] = re
		case model.ChainCondition:
			m, err := newChainMatcher(c)
			if err != nil {
				return apperrors.NewInvalidRule(err.Error())
			}
			st.chains[i] = m
		case model.AnomalyCondition:
			st.baselines[i] = &baseline{}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists {
		return apperrors.NewDuplicateRule(rule.ID)
	}
	e.rules[rule.ID] = st
	e.log.Info("rule registered", "rule", rule.ID, "conditions", len(rule.Conditions))
	return nil
}

// Remove deactivates and forgets a rule.
func (e *Engine) Remove(ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[ruleID]; !ok {
		return apperrors.NewNotFound("rule " + ruleID + " not found")
	}
	delete(e.rules, ruleID)
	return nil
}

// SetEnabled flips a rule without dropping its window state.
func (e *Engine) SetEnabled(ruleID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.rules[ruleID]
	if !ok {
		return apperrors.NewNotFound("rule " + ruleID + " not found")
	}
	st.rule.Enabled = enabled
	return nil
}

// List returns the registered rules sorted by id.
func (e *Engine) List() []*model.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.AlertRule, 0, len(e.rules))
	for _, st := range e.rules {
		out = append(out, st.rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one rule by id.
func (e *Engine) Get(ruleID string) (*model.AlertRule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.rules[ruleID]
	if !ok {
		return nil, false
	}
	return st.rule, true
}

// Process feeds one record through every rule. A record relevant to a
// rule is inserted into all of its matching windows before any of that
// rule's conditions are evaluated. Returns the alerts that were emitted
// (already dispatched to actions).
func (e *Engine) Process(ctx context.Context, rec *model.LogRecord) []*model.TriggeredAlert {
	now := e.now()
	type emission struct {
		alert   *model.TriggeredAlert
		actions []string
	}
	var emitted []emission

	e.mu.Lock()
	for _, st := range e.rules {
		if !st.rule.Enabled {
			continue
		}
		if !st.rule.Filters.Matches(rec) {
			continue
		}
		st.stats.TotalEvaluated++

		for _, w := range st.windows {
			w.add(rec, now)
		}

		alert := e.evaluateLocked(ctx, st, now)
		if alert != nil {
			emitted = append(emitted, emission{alert: alert, actions: st.rule.Actions})
		}
	}
	e.mu.Unlock()

	alerts := make([]*model.TriggeredAlert, 0, len(emitted))
	for _, em := range emitted {
		e.dispatch(ctx, em.alert, em.actions)
		alerts = append(alerts, em.alert)
	}
	return alerts
}

// evaluateLocked runs every condition of one rule and applies
// suppression. Caller holds e.mu.
func (e *Engine) evaluateLocked(ctx context.Context, st *ruleState, now time.Time) *model.TriggeredAlert {
	var met []string
	var trigger []*model.LogRecord

	for i, cond := range st.rule.Conditions {
		w := st.windows[windowKey{kind: cond.Kind(), dur: cond.Window()}]
		w.prune(now)

		var res conditionResult
		switch c := cond.(type) {
		case model.ThresholdCondition:
			res = evalThreshold(c, w.records)
		case model.PatternCondition:
			res = evalPattern(c, st.patterns[i], w.records)
		case model.FrequencyCondition:
			res = evalFrequency(c, w.records)
		case model.AnomalyCondition:
			res = evalAnomaly(c, st.baselines[i], w.records)
		case model.ChainCondition:
			res = st.chains[i].eval(w.records)
		}
		if res.met {
			met = append(met, res.label)
			trigger = appendTrigger(trigger, res.matched)
		}
	}
	if len(met) == 0 {
		return nil
	}

	// Suppression: a suppressed attempt is counted but produces no
	// alert and does not reset the cooldown.
	if st.rule.CooldownMs > 0 && !st.lastTriggered.IsZero() && now.Before(st.lastTriggered.Add(st.rule.Cooldown())) {
		st.stats.TotalSuppressed++
		metrics.AlertsSuppressed.WithLabelValues(st.rule.ID, "cooldown").Inc()
		return nil
	}
	if st.rule.MaxAlertsPerHour > 0 {
		st.hourly = pruneHourly(st.hourly, now)
		if len(st.hourly) >= st.rule.MaxAlertsPerHour {
			st.stats.TotalSuppressed++
			metrics.AlertsSuppressed.WithLabelValues(st.rule.ID, "hourly_cap").Inc()
			return nil
		}
	}

	st.lastTriggered = now
	st.hourly = append(st.hourly, now)
	st.stats.TotalTriggered++
	ts := now
	st.stats.LastTriggered = &ts
	metrics.AlertsTriggered.WithLabelValues(st.rule.ID, string(st.rule.Severity)).Inc()

	// Reset windows so an expired window re-evaluates from zero and
	// the same burst does not re-trigger on the next record.
	for _, w := range st.windows {
		w.records = nil
	}

	return &model.TriggeredAlert{
		ID:             uuid.NewString(),
		RuleID:         st.rule.ID,
		RuleName:       st.rule.Name,
		Severity:       st.rule.Severity,
		TriggeredAt:    now,
		TriggerRecords: trigger,
		ConditionsMet:  met,
		CorrelationID:  correlation.Current(ctx),
	}
}

// dispatch fans the alert out to every configured action, best-effort.
// A failing action is reported and counted, never propagated.
func (e *Engine) dispatch(ctx context.Context, alert *model.TriggeredAlert, actions []string) {
	if e.dispatcher == nil {
		return
	}
	for _, action := range actions {
		if err := e.dispatcher.Dispatch(ctx, action, alert); err != nil {
			metrics.ActionFailures.WithLabelValues(action).Inc()
			e.log.Error("action dispatch failed",
				"rule", alert.RuleID, "action", action, "error", err)
		}
	}
}

// Stats returns the aggregated suppression and trigger counters.
func (e *Engine) Stats() model.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := model.EngineStats{Rules: len(e.rules)}
	for _, st := range e.rules {
		if st.rule.Enabled {
			out.EnabledRules++
		}
		out.TotalTriggered += st.stats.TotalTriggered
		out.TotalSuppressed += st.stats.TotalSuppressed
		out.PerRule = append(out.PerRule, st.stats)
	}
	sort.Slice(out.PerRule, func(i, j int) bool { return out.PerRule[i].RuleID < out.PerRule[j].RuleID })
	return out
}

func pruneHourly(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(times) && times[idx].Before(cutoff) {
		idx++
	}
	return times[idx:]
}

func appendTrigger(dst []*model.LogRecord, src []*model.LogRecord) []*model.LogRecord {
	seen := make(map[*model.LogRecord]struct{}, len(dst))
	for _, r := range dst {
		seen[r] = struct{}{}
	}
	for _, r := range src {
		if len(dst) >= maxTriggerRecords {
			break
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		dst = append(dst, r)
	}
	return dst
}
