// Package audit maintains the tamper-evident compliance chain: hash
// linked append-only entries, retention policies, integrity
// verification and compliance export.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
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

// EventKind discriminates chain lifecycle notifications.
type EventKind string

const (
	EventAppended EventKind = "appended"
	EventArchived EventKind = "archived"
	EventExpired  EventKind = "expired"
)

// Event is one typed chain notification handed to registered observers.
type Event struct {
	Kind  EventKind
	Entry *model.AuditEntry
}

// Observer receives chain lifecycle events. The chain itself implements
// no cold storage; an EventArchived observer is the hand-off point.
type Observer interface {
	OnAuditEvent(ctx context.Context, ev Event)
}

// EntryOptions carries the optional fields of LogEvent.
type EntryOptions struct {
	Severity       model.Severity
	UserID         string
	SessionID      string
	IP             string
	Resource       string
	Result         string
	Description    string
	Context        map[string]interface{}
	ComplianceTags []string
}

// Chain is the in-memory hash chain. All appends serialize on one mutex
// since previous-hash linkage depends on append order.
type Chain struct {
	mu               sync.Mutex
	secret           []byte
	entries          []*model.AuditEntry
	lastHash         string
	anchorHash       string // expected PreviousHash of entries[0]
	expiredHashes    map[string]struct{}
	maxMemoryEntries int
	policies         []model.RetentionPolicy
	observers        []Observer
	stats            model.AuditStats
	now              func() time.Time
	log              *slog.Logger
}

func NewChain(secret string, maxMemoryEntries int, policies []model.RetentionPolicy) *Chain {
	if maxMemoryEntries <= 0 {
		maxMemoryEntries = 10000
	}
	return &Chain{
		secret:           []byte(secret),
		expiredHashes:    make(map[string]struct{}),
		maxMemoryEntries: maxMemoryEntries,
		policies:         policies,
		now:              time.Now,
		log:              logger.Named("audit"),
	}
}

// Subscribe registers an observer for chain lifecycle events.
// Not safe to call concurrently with appends; wire observers at startup.
func (c *Chain) Subscribe(o Observer) {
	c.observers = append(c.observers, o)
}

// LogEvent builds a hash-linked entry and appends it. Returns the new
// entry's id. Retention and the memory bound are applied on every
// append; evicted entries surface through observer notifications.
func (c *Chain) LogEvent(ctx context.Context, eventType, action string, opts EntryOptions) (string, error) {
	// The canonical hash payload is JSON; an unserializable context
	// value would make the entry unhashable, so it is rejected before
	// anything touches the chain.
	if len(opts.Context) > 0 {
		if _, err := json.Marshal(opts.Context); err != nil {
			return "", apperrors.New(apperrors.ErrInvalidRequest,
				"audit context is not JSON-serializable", err)
		}
	}
	now := c.now()
	severity := opts.Severity
	if severity == "" {
		severity = model.SeverityLow
	}
	result := opts.Result
	if result == "" {
		result = "success"
	}
	entry := &model.AuditEntry{
		ID:             uuid.NewString(),
		Timestamp:      now,
		EventType:      eventType,
		Severity:       severity,
		UserID:         opts.UserID,
		SessionID:      opts.SessionID,
		IP:             opts.IP,
		Action:         action,
		Resource:       opts.Resource,
		Result:         result,
		Description:    opts.Description,
		CorrelationID:  correlation.Current(ctx),
		Context:        opts.Context,
		ComplianceTags: opts.ComplianceTags,
	}

	var events []Event

	c.mu.Lock()
	entry.PreviousHash = c.lastHash
	entry.Hash = computeHash(c.secret, entry, c.lastHash)
	c.entries = append(c.entries, entry)
	c.lastHash = entry.Hash
	c.stats.TotalAppended++
	metrics.AuditAppends.Inc()
	events = append(events, Event{Kind: EventAppended, Entry: entry})

	events = append(events, c.applyRetentionLocked(now)...)
	events = append(events, c.enforceMemoryBoundLocked()...)
	c.pruneExpiredLocked()
	c.mu.Unlock()

	c.notify(ctx, events)
	return entry.ID, nil
}

// applyRetentionLocked removes entries whose retention window has
// elapsed under any applicable policy. Policies are independent and
// non-exclusive. Hashes of expired entries are recorded so Verify can
// tell a retention hole apart from tampering. Caller holds c.mu.
func (c *Chain) applyRetentionLocked(now time.Time) []Event {
	if len(c.policies) == 0 {
		return nil
	}
	var events []Event
	kept := c.entries[:0]
	for i, entry := range c.entries {
		if c.expiredLocked(entry, now) {
			if i == 0 || len(kept) == 0 {
				c.anchorHash = entry.Hash
			}
			c.expiredHashes[entry.Hash] = struct{}{}
			c.stats.TotalExpired++
			metrics.AuditExpired.Inc()
			events = append(events, Event{Kind: EventExpired, Entry: entry})
			continue
		}
		kept = append(kept, entry)
	}
	c.entries = kept
	return events
}

// pruneExpiredLocked drops recorded expired hashes that no surviving
// entry links to anymore, so the set tracks live retention holes
// instead of growing with every expiry. Caller holds c.mu.
func (c *Chain) pruneExpiredLocked() {
	if len(c.expiredHashes) == 0 {
		return
	}
	referenced := make(map[string]struct{}, len(c.expiredHashes))
	for _, entry := range c.entries {
		if _, ok := c.expiredHashes[entry.PreviousHash]; ok {
			referenced[entry.PreviousHash] = struct{}{}
		}
	}
	c.expiredHashes = referenced
}

func (c *Chain) expiredLocked(entry *model.AuditEntry, now time.Time) bool {
	for i := range c.policies {
		p := &c.policies[i]
		if p.RetentionDays <= 0 || !p.AppliesTo(entry) {
			continue
		}
		if now.Sub(entry.Timestamp) > time.Duration(p.RetentionDays)*24*time.Hour {
			return true
		}
	}
	return false
}

// enforceMemoryBoundLocked evicts the oldest entries beyond the bounded
// in-memory window and reports them as archived. Caller holds c.mu.
func (c *Chain) enforceMemoryBoundLocked() []Event {
	var events []Event
	for len(c.entries) > c.maxMemoryEntries {
		evicted := c.entries[0]
		c.entries = c.entries[1:]
		c.anchorHash = evicted.Hash
		c.stats.TotalArchived++
		metrics.AuditArchived.Inc()
		events = append(events, Event{Kind: EventArchived, Entry: evicted})
	}
	return events
}

func (c *Chain) notify(ctx context.Context, events []Event) {
	for _, ev := range events {
		for _, o := range c.observers {
			o.OnAuditEvent(ctx, ev)
		}
	}
}

// InvalidEntry describes one verification failure.
type InvalidEntry struct {
	Index   int    `json:"index"`
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// Report is the outcome of an integrity pass. RetentionGaps counts
// links broken by recorded retention expiry rather than tampering;
// they do not invalidate the chain.
type Report struct {
	IsValid        bool           `json:"is_valid"`
	CheckedEntries int            `json:"checked_entries"`
	RetentionGaps  int            `json:"retention_gaps,omitempty"`
	InvalidEntries []InvalidEntry `json:"invalid_entries"`
}

// Verify walks the stored entries in order, recomputing every hash. It
// checks both each entry's own hash and its link to the recomputed
// predecessor hash, so a single tampered entry flags itself as a hash
// mismatch and every later entry as a chain integrity violation. A
// broken link whose target is a recorded retention expiry is reported
// as a retention gap, not a violation. Verification never stops at the
// first failure; tamper detection is a normal outcome reported as data.
func (c *Chain) Verify() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return verifyEntries(c.secret, c.entries, c.anchorHash, c.expiredHashes)
}

// verifyEntries is the shared core of Verify and the offline inspector.
// anchor is the expected PreviousHash of the first entry; expired holds
// hashes of entries removed by retention, so a link into an expired
// entry re-anchors the walk instead of flagging it.
func verifyEntries(secret []byte, entries []*model.AuditEntry, anchor string, expired map[string]struct{}) Report {
	report := Report{IsValid: true, CheckedEntries: len(entries)}
	expectedPrev := anchor
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			if _, ok := expired[entry.PreviousHash]; ok {
				report.RetentionGaps++
				expectedPrev = entry.PreviousHash
			} else {
				report.IsValid = false
				report.InvalidEntries = append(report.InvalidEntries, InvalidEntry{
					Index: i, EntryID: entry.ID, Reason: "chain integrity violation",
				})
			}
		}
		if computeHash(secret, entry, entry.PreviousHash) != entry.Hash {
			report.IsValid = false
			report.InvalidEntries = append(report.InvalidEntries, InvalidEntry{
				Index: i, EntryID: entry.ID, Reason: "hash mismatch",
			})
		}
		// Advance along the corrected chain so tampering cascades.
		expectedPrev = computeHash(secret, entry, expectedPrev)
	}
	return report
}

// Query filters the in-memory window, newest first, with offset/limit
// pagination.
func (c *Chain) Query(q model.AuditQuery) []*model.AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []*model.AuditEntry
	for i := len(c.entries) - 1; i >= 0; i-- {
		entry := c.entries[i]
		if !matchesQuery(entry, &q) {
			continue
		}
		matched = append(matched, entry)
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

func matchesQuery(entry *model.AuditEntry, q *model.AuditQuery) bool {
	if q.EventType != "" && entry.EventType != q.EventType {
		return false
	}
	if q.Severity != "" && entry.Severity != q.Severity {
		return false
	}
	if q.UserID != "" && entry.UserID != q.UserID {
		return false
	}
	if q.Action != "" && entry.Action != q.Action {
		return false
	}
	if q.Result != "" && entry.Result != q.Result {
		return false
	}
	if q.Resource != "" && entry.Resource != q.Resource {
		return false
	}
	if q.ComplianceTag != "" {
		found := false
		for _, tag := range entry.ComplianceTags {
			if tag == q.ComplianceTag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.From != nil && entry.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && entry.Timestamp.After(*q.To) {
		return false
	}
	return true
}

// Stats returns the chain's running counters.
func (c *Chain) Stats() model.AuditStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.InMemory = len(c.entries)
	if len(c.entries) > 0 {
		stats.OldestInChain = c.entries[0].Timestamp
		stats.NewestInChain = c.entries[len(c.entries)-1].Timestamp
	}
	return stats
}

// snapshot copies the entry slice for export without holding the lock
// during serialization.
func (c *Chain) snapshot() ([]*model.AuditEntry, []string, model.AuditStats, Report) {
	c.mu.Lock()
	entries := make([]*model.AuditEntry, len(c.entries))
	copy(entries, c.entries)
	expired := make([]string, 0, len(c.expiredHashes))
	for hash := range c.expiredHashes {
		expired = append(expired, hash)
	}
	sort.Strings(expired)
	stats := c.stats
	stats.InMemory = len(entries)
	if len(entries) > 0 {
		stats.OldestInChain = entries[0].Timestamp
		stats.NewestInChain = entries[len(entries)-1].Timestamp
	}
	report := verifyEntries(c.secret, entries, c.anchorHash, c.expiredHashes)
	c.mu.Unlock()
	return entries, expired, stats, report
}
