package audit

import (
	"context"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// NewTaskHandler returns the queue handler that drains the audit outbox into storage.
// Entries are enqueued as queue tasks inside the transaction that made the change.
func NewTaskHandler(storage Storage) queue.Handler {
	if storage == nil {
		panic(ErrStorageNil)
	}
	return queue.NewTaskHandler(func(ctx context.Context, e Entry) error {
		return storage.Store(ctx, e)
	})
}
