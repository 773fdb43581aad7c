package model

import (
	"strings"
	"time"
)

// Level is the severity level of a single log record.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

var levelRanks = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// Rank returns the numeric ordering of the level. Unknown levels rank
// below DEBUG so they never satisfy a threshold by accident.
func (l Level) Rank() int {
	if r, ok := levelRanks[l]; ok {
		return r
	}
	return -1
}

// ParseLevel normalizes a level string; unknown input falls back to INFO.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelRanks[l]; ok {
		return l
	}
	return LevelInfo
}

// Performance carries optional timing data attached to a record.
type Performance struct {
	DurationMs  float64 `json:"duration_ms"`
	MemoryBytes int64   `json:"memory_bytes,omitempty"`
}

// RecordError is the structured error payload of a record, if any.
type RecordError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// LogRecord is the unit of input for the processing core. It is treated
// as immutable once handed over.
type LogRecord struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         Level                  `json:"level"`
	Message       string                 `json:"message"`
	Service       string                 `json:"service"`
	Domain        string                 `json:"domain,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	Performance   *Performance           `json:"performance,omitempty"`
	Error         *RecordError           `json:"error,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// FieldValue resolves a named field for pattern matching. Known names
// cover the fixed fields; anything else falls through to Fields.
func (r *LogRecord) FieldValue(name string) (string, bool) {
	switch name {
	case "message":
		return r.Message, true
	case "service":
		return r.Service, true
	case "domain":
		return r.Domain, true
	case "level":
		return string(r.Level), true
	case "user_id":
		return r.UserID, true
	case "error.message":
		if r.Error != nil {
			return r.Error.Message, true
		}
		return "", false
	case "error.type":
		if r.Error != nil {
			return r.Error.Type, true
		}
		return "", false
	}
	if r.Fields != nil {
		if v, ok := r.Fields[name]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}
