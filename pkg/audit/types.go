package audit

import (
	"fmt"
	"time"
)

// ActorType identifies who caused an audited change.
type ActorType string

const (
	ActorMerchant ActorType = "MERCHANT"
	ActorSystem   ActorType = "SYSTEM"
	ActorProvider ActorType = "PROVIDER"
)

// Entry is a single append-only audit log record. Previous and Current hold
// snapshots of the changed state before and after the action.
type Entry struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorType  ActorType      `json:"actor_type"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Previous   map[string]any `json:"previous,omitempty"`
	Current    map[string]any `json:"current,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks if the entry has all required fields.
func (e *Entry) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	case e.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidEntry)
	case e.Action == "":
		return fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	switch e.ActorType {
	case ActorMerchant, ActorSystem, ActorProvider:
	default:
		return fmt.Errorf("%w: unknown actor type %q", ErrInvalidEntry, e.ActorType)
	}
	return nil
}

// EntryOption applies configuration to an Entry during creation.
type EntryOption func(*Entry)

// WithActor sets the actor explicitly, overriding context extraction.
func WithActor(actorType ActorType, actorID string) EntryOption {
	return func(e *Entry) {
		e.ActorType = actorType
		e.ActorID = actorID
	}
}

// WithResource sets the resource type and ID.
func WithResource(resource, id string) EntryOption {
	return func(e *Entry) {
		e.Resource = resource
		e.ResourceID = id
	}
}

// WithChange sets the before and after snapshots.
func WithChange(previous, current map[string]any) EntryOption {
	return func(e *Entry) {
		e.Previous = previous
		e.Current = current
	}
}

// WithMetadata adds metadata to the entry.
func WithMetadata(key string, value any) EntryOption {
	return func(e *Entry) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}
