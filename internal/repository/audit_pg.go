package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/GoLogware/loggate/internal/audit"
	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/logger"
)

// PostgresAuditArchive is the cold store behind the in-memory audit
// chain. It subscribes to the chain as an observer and persists every
// entry that falls out of the memory window, hashes included, so the
// archived span can still be re-verified offline.
type PostgresAuditArchive struct {
	db  *sqlx.DB
	log *slog.Logger
}

func NewPostgresAuditArchive(db *sqlx.DB) *PostgresAuditArchive {
	repo := &PostgresAuditArchive{db: db, log: logger.Named("audit_archive")}
	_ = repo.ensureSchema(context.Background())
	return repo
}

// OnAuditEvent implements audit.Observer. Only archival events are
// persisted here; appends stay in memory and expiries are dropped on
// purpose.
func (r *PostgresAuditArchive) OnAuditEvent(ctx context.Context, ev audit.Event) {
	if ev.Kind != audit.EventArchived {
		return
	}
	if err := r.Insert(ctx, ev.Entry); err != nil {
		r.log.Error("failed to archive audit entry", "id", ev.Entry.ID, "error", err)
	}
}

func (r *PostgresAuditArchive) Insert(ctx context.Context, entry *model.AuditEntry) error {
	if entry == nil {
		return nil
	}
	contextJSON, _ := json.Marshal(entry.Context)
	tags := strings.Join(entry.ComplianceTags, ";")
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_archive (
			id, ts, event_type, severity, user_id, session_id, ip,
			action, resource, result, description, correlation_id,
			context, compliance_tags, hash, previous_hash
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,
			$8,$9,$10,$11,$12,
			$13,$14,$15,$16
		)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.Timestamp, entry.EventType, entry.Severity, entry.UserID, entry.SessionID, entry.IP,
		entry.Action, entry.Resource, entry.Result, entry.Description, entry.CorrelationID,
		contextJSON, tags, entry.Hash, entry.PreviousHash)
	return err
}

func (r *PostgresAuditArchive) List(ctx context.Context, q model.AuditQuery) ([]*model.AuditEntry, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, ts, event_type, severity, user_id, session_id, ip, action, resource, result, description, correlation_id, context, compliance_tags, hash, previous_hash FROM audit_archive`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if q.EventType != "" {
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", idx))
		args = append(args, q.EventType)
		idx++
	}
	if q.Severity != "" {
		clauses = append(clauses, fmt.Sprintf("severity = $%d", idx))
		args = append(args, string(q.Severity))
		idx++
	}
	if q.UserID != "" {
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, q.UserID)
		idx++
	}
	if q.From != nil {
		clauses = append(clauses, fmt.Sprintf("ts >= $%d", idx))
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		clauses = append(clauses, fmt.Sprintf("ts <= $%d", idx))
		args = append(args, *q.To)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*model.AuditEntry, 0, limit)
	for rows.Next() {
		var entry model.AuditEntry
		var contextJSON []byte
		var tags string
		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.EventType,
			&entry.Severity,
			&entry.UserID,
			&entry.SessionID,
			&entry.IP,
			&entry.Action,
			&entry.Resource,
			&entry.Result,
			&entry.Description,
			&entry.CorrelationID,
			&contextJSON,
			&tags,
			&entry.Hash,
			&entry.PreviousHash,
		); err != nil {
			return nil, err
		}
		if len(contextJSON) > 0 {
			_ = json.Unmarshal(contextJSON, &entry.Context)
		}
		if tags != "" {
			entry.ComplianceTags = strings.Split(tags, ";")
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (r *PostgresAuditArchive) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_archive (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ,
			event_type TEXT,
			severity TEXT,
			user_id TEXT,
			session_id TEXT,
			ip TEXT,
			action TEXT,
			resource TEXT,
			result TEXT,
			description TEXT,
			correlation_id TEXT,
			context JSONB,
			compliance_tags TEXT,
			hash TEXT,
			previous_hash TEXT
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_archive_ts ON audit_archive(event_type, ts DESC)`)
	return nil
}

func (r *PostgresAuditArchive) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM audit_archive WHERE ts < $1`, cutoff)
	return err
}
