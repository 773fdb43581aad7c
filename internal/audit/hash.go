package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/GoLogware/loggate/internal/model"
)

// canonicalPayload renders every field of the entry except Hash into a
// deterministic key-sorted JSON document. Maps are marshaled with sorted
// keys by encoding/json, which makes the rendering reproducible across
// processes as long as field values survive a JSON round trip.
func canonicalPayload(entry *model.AuditEntry, prevHash string) []byte {
	fields := map[string]interface{}{
		"id":            entry.ID,
		"timestamp":     entry.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_type":    entry.EventType,
		"severity":      entry.Severity,
		"action":        entry.Action,
		"result":        entry.Result,
		"previous_hash": prevHash,
	}
	if entry.UserID != "" {
		fields["user_id"] = entry.UserID
	}
	if entry.SessionID != "" {
		fields["session_id"] = entry.SessionID
	}
	if entry.IP != "" {
		fields["ip"] = entry.IP
	}
	if entry.Resource != "" {
		fields["resource"] = entry.Resource
	}
	if entry.Description != "" {
		fields["description"] = entry.Description
	}
	if entry.CorrelationID != "" {
		fields["correlation_id"] = entry.CorrelationID
	}
	if len(entry.Context) > 0 {
		fields["context"] = entry.Context
	}
	if len(entry.ComplianceTags) > 0 {
		fields["compliance_tags"] = entry.ComplianceTags
	}
	// LogEvent rejects unserializable context values before an entry is
	// built, so every field here is known to marshal. All other values
	// are plain strings and slices of strings.
	payload, err := json.Marshal(fields)
	if err != nil {
		panic("audit: canonical payload not serializable: " + err.Error())
	}
	return payload
}

// computeHash is HMAC-SHA256 over the canonical payload, keyed with the
// chain secret, hex encoded.
func computeHash(secret []byte, entry *model.AuditEntry, prevHash string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonicalPayload(entry, prevHash))
	return hex.EncodeToString(mac.Sum(nil))
}
