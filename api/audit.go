package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditKeyImported          AuditEvent = "key_imported"
	AuditKeyUnlocked          AuditEvent = "key_unlocked"
	AuditKeyUnlockFailure     AuditEvent = "key_unlock_failure"
	AuditKeyUnlockRateLimited AuditEvent = "key_unlock_rate_limited"
	AuditKeyLocked            AuditEvent = "key_locked"
	AuditSecretRead           AuditEvent = "secret_read"
	AuditSecretWritten        AuditEvent = "secret_written"
	AuditEntryDeleted         AuditEvent = "entry_deleted"
	AuditEntryMoved           AuditEvent = "entry_moved"
	AuditEntryCopied          AuditEvent = "entry_copied"
	AuditRecipientsChanged    AuditEvent = "recipients_changed"
	AuditStoreCloned          AuditEvent = "store_cloned"
	AuditStoreCommitted       AuditEvent = "store_committed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Secret content never reaches it; passwords are identified by path.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logPath is a convenience for events about a single entry.
func (al *auditLogger) logPath(event AuditEvent, r *http.Request, path string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("path", path)}, extra...)...)
}

// logKey is a convenience for events about a single key.
func (al *auditLogger) logKey(event AuditEvent, r *http.Request, keyID string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("key_id", keyID)}, extra...)...)
}
