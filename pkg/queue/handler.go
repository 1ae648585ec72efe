package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type (
	// Handler executes tasks with a matching Name.
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	TaskHandlerFunc[T any]  func(ctx context.Context, payload T) error
	PeriodicTaskHandlerFunc func(ctx context.Context) error
)

// TaskName returns the name under which payloads of type T are enqueued and handled.
func TaskName[T any]() string {
	var zero T
	return taskNameOf(zero)
}

func taskNameOf(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}

// NewTaskHandler builds a handler for payloads of type T, named after T.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	return &typedHandler[T]{name: TaskName[T](), handler: handler}
}

// NewPeriodicTaskHandler builds a handler for a scheduler task registered under name.
func NewPeriodicTaskHandler(name string, handler PeriodicTaskHandlerFunc) Handler {
	return &periodicHandler{name: name, handler: handler}
}

type typedHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.handler(ctx, t)
}

type periodicHandler struct {
	name    string
	handler PeriodicTaskHandlerFunc
}

func (h *periodicHandler) Name() string { return h.name }

func (h *periodicHandler) Handle(ctx context.Context, _ json.RawMessage) error {
	return h.handler(ctx)
}
