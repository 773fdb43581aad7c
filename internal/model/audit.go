package model

import (
	"time"
)

// AuditEntry is one link of the tamper-evident compliance chain.
// Hash covers every other field plus PreviousHash; for all i>0,
// entries[i].PreviousHash equals entries[i-1].Hash. The genesis entry
// carries an empty PreviousHash.
type AuditEntry struct {
	ID             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	Severity       Severity               `json:"severity"`
	UserID         string                 `json:"user_id,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`
	IP             string                 `json:"ip,omitempty"`
	Action         string                 `json:"action"`
	Resource       string                 `json:"resource,omitempty"`
	Result         string                 `json:"result"`
	Description    string                 `json:"description,omitempty"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	ComplianceTags []string               `json:"compliance_tags,omitempty"`
	Hash           string                 `json:"hash"`
	PreviousHash   string                 `json:"previous_hash"`
}

// RetentionPolicy removes matching entries once RetentionDays have
// elapsed. Policies are independent and non-exclusive; an entry is
// eligible as soon as any applicable policy's window has passed.
type RetentionPolicy struct {
	RetentionDays    int        `json:"retention_days" mapstructure:"retention_days"`
	ArchiveAfterDays int        `json:"archive_after_days,omitempty" mapstructure:"archive_after_days"`
	EventTypes       []string   `json:"event_types,omitempty" mapstructure:"event_types"`
	Severities       []Severity `json:"severities,omitempty" mapstructure:"severities"`
}

// AppliesTo reports whether the policy's optional filters select the entry.
func (p *RetentionPolicy) AppliesTo(entry *AuditEntry) bool {
	if len(p.EventTypes) > 0 && !containsString(p.EventTypes, entry.EventType) {
		return false
	}
	if len(p.Severities) > 0 {
		found := false
		for _, s := range p.Severities {
			if s == entry.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AuditQuery filters the in-memory chain. Zero values mean "any".
type AuditQuery struct {
	EventType     string     `json:"event_type,omitempty" form:"event_type"`
	Severity      Severity   `json:"severity,omitempty" form:"severity"`
	UserID        string     `json:"user_id,omitempty" form:"user_id"`
	Action        string     `json:"action,omitempty" form:"action"`
	Result        string     `json:"result,omitempty" form:"result"`
	Resource      string     `json:"resource,omitempty" form:"resource"`
	ComplianceTag string     `json:"compliance_tag,omitempty" form:"compliance_tag"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	Offset        int        `json:"offset,omitempty" form:"offset"`
	Limit         int        `json:"limit,omitempty" form:"limit"`
}

// AuditStats is the running counter set of the chain.
type AuditStats struct {
	TotalAppended int64     `json:"total_appended"`
	TotalArchived int64     `json:"total_archived"`
	TotalExpired  int64     `json:"total_expired"`
	InMemory      int       `json:"in_memory"`
	OldestInChain time.Time `json:"oldest_in_chain,omitempty"`
	NewestInChain time.Time `json:"newest_in_chain,omitempty"`
}
