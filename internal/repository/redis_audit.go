package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/GoLogware/loggate/internal/audit"
	"github.com/GoLogware/loggate/internal/pkg/logger"
)

// RedisAuditArchive keeps the archived tail of the audit chain in a
// capped Redis list. It is the fallback cold store when Postgres is
// not configured.
type RedisAuditArchive struct {
	client  *redis.Client
	listKey string
	maxLen  int64
	log     *slog.Logger
}

func NewRedisAuditArchive(client *RedisClient, listKey string, maxLen int) *RedisAuditArchive {
	if listKey == "" {
		listKey = "audit_archive"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisAuditArchive{
		client:  client.Client,
		listKey: listKey,
		maxLen:  int64(maxLen),
		log:     logger.Named("audit_archive_redis"),
	}
}

// OnAuditEvent implements audit.Observer. Entries are pushed newest
// first and the list is trimmed to its cap in the same pipeline.
func (r *RedisAuditArchive) OnAuditEvent(ctx context.Context, ev audit.Event) {
	if ev.Kind != audit.EventArchived {
		return
	}
	payload, err := json.Marshal(ev.Entry)
	if err != nil {
		r.log.Error("failed to encode audit entry", "id", ev.Entry.ID, "error", err)
		return
	}
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, r.listKey, payload)
	pipe.LTrim(ctx, r.listKey, 0, r.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("failed to archive audit entry", "id", ev.Entry.ID, "error", err)
	}
}
