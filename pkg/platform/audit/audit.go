// Package audit records the compliance-relevant events of the service:
// logins, authorization grants and GDPR operations. Events are appended to
// a store and optionally fanned out to a publisher; recording never blocks
// the request path.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tunnus/pkg/requestcontext"
)

// Kind classifies an audit event.
type Kind string

const (
	KindLogin           Kind = "login"
	KindLoginFailed     Kind = "login_failed"
	KindUserCreated     Kind = "user_created"
	KindGrantIssued     Kind = "authorization_granted"
	KindSessionRevoked  Kind = "session_revoked"
	KindProfileExported Kind = "gdpr_profile_exported"
	KindProfileDeleted  Kind = "gdpr_profile_deleted"
)

// Event is one audit record. Request metadata is filled in by the Recorder
// from the request context.
type Event struct {
	ID           uuid.UUID
	Kind         Kind
	Organization string
	// SubjectID identifies the affected account. Never a raw provider
	// identifier.
	SubjectID string
	RequestID string
	ClientIP  string
	UserAgent string
	At        time.Time
	Details   map[string]string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectID string) ([]Event, error)
}

// Publisher forwards audit events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder buffers events and hands them to a background worker. A full
// buffer drops the event with a log line rather than stalling requests.
type Recorder struct {
	store     Store
	publisher Publisher
	inbox     chan Event
	logger    *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithPublisher fans recorded events out to an external sink in addition
// to the store.
func WithPublisher(publisher Publisher) RecorderOption {
	return func(r *Recorder) { r.publisher = publisher }
}

// WithRecorderLogger sets the structured logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		inbox:  make(chan Event, 256),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record enqueues an event, enriching it with request metadata from the
// context. Non-blocking.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.At.IsZero() {
		event.At = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = requestcontext.UserAgent(ctx)
	}

	select {
	case r.inbox <- event:
	default:
		r.logger.Warn("audit buffer full, dropping event",
			slog.String("kind", string(event.Kind)),
			slog.String("subject_id", event.SubjectID),
		)
	}
}

// Run drains the inbox until the context is canceled, appending each event
// to the store and forwarding it to the publisher when one is configured.
// Persistence failures are logged, not fatal; losing an audit line must not
// take the service down.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-r.inbox:
			r.process(ctx, event)
		}
	}
}

func (r *Recorder) process(ctx context.Context, event Event) {
	if err := r.store.Append(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "audit append failed",
			slog.String("kind", string(event.Kind)),
			slog.String("error", err.Error()),
		)
	}
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "audit publish failed",
			slog.String("kind", string(event.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
