package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Store persists audit entries. Implementations assign id and created_at.
type Store interface {
	AppendAudit(ctx context.Context, entry auth.AuditEntry) (auth.AuditEntry, error)
}

// Publisher mirrors committed entries to an event stream.
type Publisher interface {
	PublishAudit(ctx context.Context, entry auth.AuditEntry) error
}

// Target identifies the account an audited mutation touched.
type Target struct {
	ID    string
	Email string
}

const defaultTimeout = 3 * time.Second

// Logger appends one entry per privileged mutation. Failures never reach the caller.
type Logger struct {
	store     Store
	publisher Publisher
	timeout   time.Duration
}

// Option configures Logger.
type Option func(*Logger)

// WithPublisher mirrors every appended entry to p.
func WithPublisher(p Publisher) Option {
	return func(l *Logger) { l.publisher = p }
}

// WithTimeout bounds each append.
func WithTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLogger constructs a Logger backed by store.
func NewLogger(store Store, opts ...Option) (*Logger, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	l := &Logger{store: store, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record appends an entry for tag. The append runs on a context detached from
// request cancellation and bounded by the logger timeout. Errors are logged and
// counted, then dropped.
func (l *Logger) Record(ctx context.Context, actor auth.Actor, tag Tag, target *Target, details Details) {
	entry := auth.AuditEntry{
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		Action:     string(tag),
	}
	if target != nil {
		entry.TargetID = target.ID
		entry.TargetEmail = target.Email
	}
	log := obs.Ctx(ctx).With().
		Str("type", "audit").
		Str("event", string(tag)).
		Str("actor_id", actor.ID).
		Str("target_id", entry.TargetID).
		Logger()
	if rid := RequestIDFromContext(ctx); rid != "" {
		log = log.With().Str("request_id", rid).Logger()
	}

	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			obs.ObserveAudit(string(tag), err)
			log.Warn().Err(err).Msg("audit details not encodable")
			return
		}
		entry.Details = raw
	}

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	saved, err := l.store.AppendAudit(appendCtx, entry)
	obs.ObserveAudit(string(tag), err)
	if err != nil {
		log.Warn().Err(err).Msg("audit append failed")
		return
	}
	log.Info().Str("audit_id", saved.ID).Msg("audit recorded")

	if l.publisher != nil {
		if err := l.publisher.PublishAudit(appendCtx, saved); err != nil {
			log.Warn().Err(err).Msg("audit publish failed")
		}
	}
}
