package model

import (
	"time"
)

// IngestRequest is the wire shape of a single inbound record.
type IngestRequest struct {
	Timestamp     *time.Time             `json:"timestamp,omitempty"`
	Level         string                 `json:"level" binding:"required"`
	Message       string                 `json:"message" binding:"required"`
	Service       string                 `json:"service" binding:"required"`
	Domain        string                 `json:"domain,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	Performance   *Performance           `json:"performance,omitempty"`
	Error         *RecordError           `json:"error,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// ToRecord converts the request into a core LogRecord, stamping the
// timestamp when the producer did not provide one.
func (r *IngestRequest) ToRecord(now time.Time) *LogRecord {
	ts := now
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ts = *r.Timestamp
	}
	return &LogRecord{
		Timestamp:     ts,
		Level:         ParseLevel(r.Level),
		Message:       r.Message,
		Service:       r.Service,
		Domain:        r.Domain,
		CorrelationID: r.CorrelationID,
		UserID:        r.UserID,
		Performance:   r.Performance,
		Error:         r.Error,
		Fields:        r.Fields,
	}
}

// BatchIngestRequest carries multiple records in one call.
type BatchIngestRequest struct {
	Records []IngestRequest `json:"records" binding:"required"`
}
