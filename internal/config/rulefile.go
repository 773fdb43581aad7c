package config

import (
	"encoding/json"
	"fmt"

	"github.com/GoLogware/loggate/internal/model"
)

// ToRule converts the loose config-file rendering into a typed rule by
// round-tripping through the tagged-union JSON codec, so yaml rules get
// the same validation as API-submitted ones.
func (r RuleFile) ToRule() (*model.AlertRule, error) {
	payload := map[string]interface{}{
		"id":                  r.ID,
		"name":                r.Name,
		"severity":            r.Severity,
		"conditions":          r.Conditions,
		"actions":             r.Actions,
		"enabled":             r.Enabled,
		"cooldown_ms":         r.CooldownMs,
		"max_alerts_per_hour": r.MaxAlertsPerHour,
	}
	if r.Filters != nil {
		payload["filters"] = r.Filters
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	var rule model.AlertRule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &rule, nil
}
