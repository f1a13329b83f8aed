package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditAccountCreated  AuditEvent = "account_created"
	AuditRegisterSuccess AuditEvent = "register_success"
	AuditRegisterFailure AuditEvent = "register_failure"
	AuditLoginSuccess    AuditEvent = "login_success"
	AuditLoginFailure    AuditEvent = "login_failure"
	AuditUnlockSuccess   AuditEvent = "unlock_success"
	AuditUnlockFailure   AuditEvent = "unlock_failure"
	AuditRefreshSuccess  AuditEvent = "refresh_success"
	AuditRefreshFailure  AuditEvent = "refresh_failure"
	AuditTagCreated      AuditEvent = "tag_created"
	AuditTagDeleted      AuditEvent = "tag_deleted"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Entries never contain emails, protocol messages, or key material — only
// event names, stable subject IDs, and the remote address.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent is a convenience for events with a subject ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, subjectID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("subject_id", subjectID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
