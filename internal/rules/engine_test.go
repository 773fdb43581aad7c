package rules

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, action string, alert *model.TriggeredAlert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, action)
	if d.failFor != nil {
		if err, ok := d.failFor[action]; ok {
			return err
		}
	}
	return nil
}

// fakeClock drives engine time deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(d Dispatcher) (*Engine, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(1000, d)
	e.now = clk.Now
	return e, clk
}

func errorRecord(ts time.Time) *model.LogRecord {
	return &model.LogRecord{
		Timestamp: ts,
		Level:     model.LevelError,
		Message:   "request failed",
		Service:   "checkout",
	}
}

func thresholdRule(id string, cooldownMs int64) *model.AlertRule {
	return &model.AlertRule{
		ID:       id,
		Name:     "too many errors",
		Severity: model.SeverityHigh,
		Enabled:  true,
		Conditions: model.ConditionList{
			model.ThresholdCondition{Metric: "error_count", Threshold: 3, WindowMs: 60000, Operator: ">"},
		},
		Actions:    []string{"log"},
		CooldownMs: cooldownMs,
	}
}

func TestThresholdTriggersOnce(t *testing.T) {
	d := &recordingDispatcher{}
	e, clk := newTestEngine(d)
	assert.NoError(t, e.Register(thresholdRule("r1", 0)))

	var alerts []*model.TriggeredAlert
	for i := 0; i < 4; i++ {
		alerts = append(alerts, e.Process(context.Background(), errorRecord(clk.Now()))...)
		clk.Advance(2 * time.Second)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	assert.Equal(t, "r1", alerts[0].RuleID)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
	assert.NotEmpty(t, alerts[0].ConditionsMet)
	assert.Equal(t, []string{"log"}, d.calls)
}

func TestThresholdWindowExpiryRestartsFromZero(t *testing.T) {
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(thresholdRule("r1", 0)))

	for i := 0; i < 4; i++ {
		e.Process(context.Background(), errorRecord(clk.Now()))
		clk.Advance(2 * time.Second)
	}
	// Two minutes later the 60s window has fully expired; a single new
	// error must not trigger.
	clk.Advance(2 * time.Minute)
	alerts := e.Process(context.Background(), errorRecord(clk.Now()))
	assert.Empty(t, alerts)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.TotalTriggered)
}

func TestCooldownSuppression(t *testing.T) {
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(thresholdRule("r1", 300000)))

	burst := func() int {
		n := 0
		for i := 0; i < 4; i++ {
			n += len(e.Process(context.Background(), errorRecord(clk.Now())))
			clk.Advance(time.Second)
		}
		return n
	}

	first := burst()
	clk.Advance(60 * time.Second)
	second := burst()

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.TotalTriggered)
	assert.Equal(t, int64(1), stats.TotalSuppressed)
}

func TestHourlyCapSuppression(t *testing.T) {
	rule := thresholdRule("r1", 0)
	rule.MaxAlertsPerHour = 1
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(rule))

	burst := func() int {
		n := 0
		for i := 0; i < 4; i++ {
			n += len(e.Process(context.Background(), errorRecord(clk.Now())))
			clk.Advance(time.Second)
		}
		return n
	}

	assert.Equal(t, 1, burst())
	clk.Advance(10 * time.Minute)
	assert.Equal(t, 0, burst(), "second trigger within the hour must be capped")

	clk.Advance(time.Hour)
	assert.Equal(t, 1, burst(), "cap is a rolling window, not a hard stop")
}

func TestPatternCondition(t *testing.T) {
	rule := &model.AlertRule{
		ID:       "oom",
		Name:     "OOM watch",
		Severity: model.SeverityCritical,
		Enabled:  true,
		Conditions: model.ConditionList{
			model.PatternCondition{Regex: "OutOfMemory", Fields: []string{"message"}, MinOccurrences: 2, WindowMs: 30000},
		},
	}
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(rule))

	rec := func(msg string) *model.LogRecord {
		return &model.LogRecord{Timestamp: clk.Now(), Level: model.LevelError, Message: msg, Service: "jvm"}
	}

	assert.Empty(t, e.Process(context.Background(), rec("OutOfMemoryError in worker")), "first match must not trigger")
	clk.Advance(5 * time.Second)
	assert.Empty(t, e.Process(context.Background(), rec("all good")))
	clk.Advance(5 * time.Second)
	alerts := e.Process(context.Background(), rec("OutOfMemoryError in api"))
	if len(alerts) != 1 {
		t.Fatalf("expected one alert after second match, got %d", len(alerts))
	}
	assert.Len(t, alerts[0].TriggerRecords, 2)
}

func TestFrequencyCondition(t *testing.T) {
	rule := &model.AlertRule{
		ID:       "flood",
		Name:     "warn flood",
		Severity: model.SeverityMedium,
		Enabled:  true,
		Conditions: model.ConditionList{
			model.FrequencyCondition{Levels: []model.Level{model.LevelWarn}, MaxFrequency: 2, WindowMs: 10000},
		},
	}
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(rule))

	warn := func() []*model.TriggeredAlert {
		a := e.Process(context.Background(), &model.LogRecord{
			Timestamp: clk.Now(), Level: model.LevelWarn, Message: "slow", Service: "db",
		})
		clk.Advance(time.Second)
		return a
	}

	assert.Empty(t, warn())
	assert.Empty(t, warn())
	// Third WARN exceeds maxFrequency of 2.
	assert.Len(t, warn(), 1)
}

func TestChainCondition(t *testing.T) {
	rule := &model.AlertRule{
		ID:       "chain",
		Name:     "auth break-in pattern",
		Severity: model.SeverityCritical,
		Enabled:  true,
		Conditions: model.ConditionList{
			model.ChainCondition{
				Sequence: []model.ChainStep{
					{MessagePattern: "login failed"},
					{MessagePattern: "login failed", MaxFromPreviousMs: 5000},
					{MessagePattern: "privilege escalation", MaxFromPreviousMs: 5000},
				},
				MaxChainTimeMs: 20000,
			},
		},
	}
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(rule))

	send := func(msg string) []*model.TriggeredAlert {
		return e.Process(context.Background(), &model.LogRecord{
			Timestamp: clk.Now(), Level: model.LevelWarn, Message: msg, Service: "auth",
		})
	}

	assert.Empty(t, send("login failed"))
	clk.Advance(2 * time.Second)
	assert.Empty(t, send("login failed"))
	// Gap above MaxFromPreviousMs resets the match; this event becomes a
	// fresh first step instead of completing the sequence.
	clk.Advance(10 * time.Second)
	assert.Empty(t, send("login failed"))
	clk.Advance(2 * time.Second)
	assert.Empty(t, send("login failed"))
	clk.Advance(2 * time.Second)
	alerts := send("privilege escalation detected")
	if len(alerts) != 1 {
		t.Fatalf("expected completed chain to trigger, got %d alerts", len(alerts))
	}
	assert.Len(t, alerts[0].TriggerRecords, 3)
}

func TestAnomalyConditionBaseline(t *testing.T) {
	rule := &model.AlertRule{
		ID:       "anom",
		Name:     "latency anomaly",
		Severity: model.SeverityHigh,
		Enabled:  true,
		Conditions: model.ConditionList{
			model.AnomalyCondition{Metric: "response_time", Sensitivity: 8, HistoricalWindowMs: 60000},
		},
	}
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(rule))

	send := func(durMs float64) []*model.TriggeredAlert {
		a := e.Process(context.Background(), &model.LogRecord{
			Timestamp:   clk.Now(),
			Level:       model.LevelInfo,
			Message:     "handled",
			Service:     "api",
			Performance: &model.Performance{DurationMs: durMs},
		})
		clk.Advance(time.Second)
		return a
	}

	// Build a stable baseline around ~100ms.
	for i := 0; i < 10; i++ {
		assert.Empty(t, send(100+float64(i%3)))
	}
	// A 10x spike deviates far beyond the sensitivity-scaled band.
	alerts := send(1000)
	assert.Len(t, alerts, 1)
}

func TestFiltersGateRecordsCompletely(t *testing.T) {
	rule := thresholdRule("r1", 0)
	rule.Filters = &model.RuleFilters{Services: []string{"payments"}}
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(rule))

	for i := 0; i < 10; i++ {
		rec := errorRecord(clk.Now())
		rec.Service = "checkout" // not in the allow-list
		assert.Empty(t, e.Process(context.Background(), rec))
		clk.Advance(time.Second)
	}
	stats := e.Stats()
	assert.Equal(t, int64(0), stats.PerRule[0].TotalEvaluated, "filtered records are invisible to the rule")
}

func TestRegisterValidation(t *testing.T) {
	e, _ := newTestEngine(nil)

	var appErr *apperrors.AppError

	err := e.Register(&model.AlertRule{ID: "", Enabled: true})
	assert.Error(t, err)

	err = e.Register(&model.AlertRule{ID: "no-conds", Enabled: true})
	if assert.Error(t, err) && assert.True(t, errors.As(err, &appErr)) {
		assert.Equal(t, apperrors.ErrInvalidRule, appErr.Type)
	}

	bad := &model.AlertRule{
		ID:      "bad-op",
		Enabled: true,
		Conditions: model.ConditionList{
			model.ThresholdCondition{Metric: "error_count", Threshold: 1, WindowMs: 1000, Operator: "~"},
		},
	}
	assert.Error(t, e.Register(bad))

	ok := thresholdRule("dup", 0)
	assert.NoError(t, e.Register(ok))
	err = e.Register(thresholdRule("dup", 0))
	if assert.True(t, errors.As(err, &appErr)) {
		assert.Equal(t, apperrors.ErrDuplicateRule, appErr.Type)
	}
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	rule := thresholdRule("r1", 0)
	e, clk := newTestEngine(nil)
	assert.NoError(t, e.Register(rule))
	assert.NoError(t, e.SetEnabled("r1", false))

	for i := 0; i < 6; i++ {
		assert.Empty(t, e.Process(context.Background(), errorRecord(clk.Now())))
	}
	assert.NoError(t, e.SetEnabled("r1", true))
}

func TestActionFailureIsIsolated(t *testing.T) {
	d := &recordingDispatcher{failFor: map[string]error{"webhook": errors.New("connection refused")}}
	rule := thresholdRule("r1", 0)
	rule.Actions = []string{"webhook", "log"}
	e, clk := newTestEngine(d)
	assert.NoError(t, e.Register(rule))

	for i := 0; i < 4; i++ {
		e.Process(context.Background(), errorRecord(clk.Now()))
		clk.Advance(time.Second)
	}
	// Both actions were attempted despite the webhook failure.
	assert.Equal(t, []string{"webhook", "log"}, d.calls)
}

func TestConditionJSONRoundTrip(t *testing.T) {
	body := []byte(`{
		"id": "mixed",
		"name": "mixed conditions",
		"severity": "high",
		"enabled": true,
		"actions": ["log"],
		"conditions": [
			{"type": "threshold", "metric": "error_count", "threshold": 3, "window_ms": 60000, "operator": ">"},
			{"type": "pattern", "regex": "timeout", "fields": ["message"], "min_occurrences": 1, "window_ms": 30000},
			{"type": "chain", "sequence": [{"message_pattern": "a"}, {"message_pattern": "b"}], "max_chain_time_ms": 5000}
		]
	}`)
	var rule model.AlertRule
	assert.NoError(t, json.Unmarshal(body, &rule))
	assert.Len(t, rule.Conditions, 3)
	assert.Equal(t, model.KindThreshold, rule.Conditions[0].Kind())
	assert.Equal(t, model.KindPattern, rule.Conditions[1].Kind())
	assert.Equal(t, model.KindChain, rule.Conditions[2].Kind())

	e, _ := newTestEngine(nil)
	assert.NoError(t, e.Register(&rule))

	unknown := []byte(`{"id":"x","conditions":[{"type":"mystery"}]}`)
	var bad model.AlertRule
	assert.Error(t, json.Unmarshal(unknown, &bad))
}
