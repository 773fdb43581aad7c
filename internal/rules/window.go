package rules

import (
	"time"

	"github.com/GoLogware/loggate/internal/model"
)

// window is a time-bounded ordered buffer of records. Records are
// appended in arrival order and pruned to [now-dur, now] on every
// insert. Owned exclusively by one rule; the engine's mutex covers it.
type window struct {
	dur     time.Duration
	maxSize int
	records []*model.LogRecord
}

func newWindow(dur time.Duration, maxSize int) *window {
	return &window{dur: dur, maxSize: maxSize}
}

// add appends the record and drops everything older than now-dur.
func (w *window) add(rec *model.LogRecord, now time.Time) {
	w.records = append(w.records, rec)
	w.prune(now)
	if w.maxSize > 0 && len(w.records) > w.maxSize {
		w.records = w.records[len(w.records)-w.maxSize:]
	}
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.dur)
	idx := 0
	for idx < len(w.records) && w.records[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.records = w.records[idx:]
	}
}

func (w *window) len() int {
	return len(w.records)
}
