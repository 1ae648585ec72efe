package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Actor is returned by an actor extractor.
type Actor struct {
	Type ActorType
	ID   string
}

type (
	stringExtractor func(context.Context) (string, bool)
	actorExtractor  func(context.Context) (Actor, bool)
)

// Recorder builds entries, filling request scoped fields from the context.
// It does not persist anything: entries are handed to an outbox or a Storage.
type Recorder struct {
	requestIDExtractor stringExtractor
	actorExtractor     actorExtractor
	now                func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithRequestIDExtractor sets how the request ID is read from the context.
func WithRequestIDExtractor(fn func(context.Context) (string, bool)) Option {
	return func(r *Recorder) { r.requestIDExtractor = fn }
}

// WithActorExtractor sets how the acting principal is read from the context.
func WithActorExtractor(fn func(context.Context) (Actor, bool)) Option {
	return func(r *Recorder) { r.actorExtractor = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a new audit entry recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Entry builds a validated entry for tenantID. Without an actor in the
// context or options the actor defaults to SYSTEM.
func (r *Recorder) Entry(ctx context.Context, tenantID, action string, opts ...EntryOption) (Entry, error) {
	e := Entry{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ActorType: ActorSystem,
		Action:    action,
		CreatedAt: r.now().UTC(),
	}

	if r.requestIDExtractor != nil {
		if id, ok := r.requestIDExtractor(ctx); ok {
			e.RequestID = id
		}
	}
	if r.actorExtractor != nil {
		if actor, ok := r.actorExtractor(ctx); ok {
			e.ActorType = actor.Type
			e.ActorID = actor.ID
		}
	}

	for _, opt := range opts {
		opt(&e)
	}

	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}
