package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"time"

	"github.com/GoLogware/loggate/internal/model"
)

// tagDelimiter joins compliance tags in the flattened CSV rendering.
const tagDelimiter = ";"

var csvHeader = []string{
	"id", "timestamp", "event_type", "severity", "user_id",
	"action", "result", "description", "compliance_tags",
}

// Export is the full-fidelity JSON dump of the chain. ExpiredHashes
// carries the recorded retention holes so offline verification can
// bridge them the same way the live chain does.
type Export struct {
	ExportedAt    time.Time           `json:"exported_at"`
	Stats         model.AuditStats    `json:"stats"`
	Integrity     Report              `json:"integrity"`
	ExpiredHashes []string            `json:"expired_hashes,omitempty"`
	Entries       []*model.AuditEntry `json:"entries"`
}

// ExportJSON dumps the in-memory chain with current statistics and an
// integrity report.
func (c *Chain) ExportJSON() ([]byte, error) {
	entries, expired, stats, report := c.snapshot()
	return json.MarshalIndent(Export{
		ExportedAt:    c.now(),
		Stats:         stats,
		Integrity:     report,
		ExpiredHashes: expired,
		Entries:       entries,
	}, "", "  ")
}

// ExportCSV flattens the chain to one row per entry. encoding/csv takes
// care of quoting/escaping the description; tags are semicolon-joined.
func (c *Chain) ExportCSV() ([]byte, error) {
	entries, _, _, _ := c.snapshot()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.EventType,
			string(e.Severity),
			e.UserID,
			e.Action,
			e.Result,
			e.Description,
			strings.Join(e.ComplianceTags, tagDelimiter),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifyExport re-runs integrity verification over a previously
// exported dump, for offline inspection.
func VerifyExport(secret string, data []byte) (Report, error) {
	var dump Export
	if err := json.Unmarshal(data, &dump); err != nil {
		return Report{}, err
	}
	anchor := ""
	if len(dump.Entries) > 0 {
		anchor = dump.Entries[0].PreviousHash
	}
	expired := make(map[string]struct{}, len(dump.ExpiredHashes))
	for _, hash := range dump.ExpiredHashes {
		expired[hash] = struct{}{}
	}
	return verifyEntries([]byte(secret), dump.Entries, anchor, expired), nil
}
