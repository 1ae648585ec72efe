package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/pg"
)

const sqlInsertEntry = `
INSERT INTO audit_log (id, tenant_id, actor_id, actor_type, action, resource, resource_id,
	previous, current, request_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO NOTHING`

// PGStorage writes entries to the audit_log table.
type PGStorage struct {
	db pg.TxStarter
}

// NewPGStorage creates a PostgreSQL audit storage.
func NewPGStorage(db pg.TxStarter) *PGStorage {
	return &PGStorage{db: db}
}

// Store inserts all entries in one transaction.
func (s *PGStorage) Store(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			previous, err := jsonOrNil(e.Previous)
			if err != nil {
				return err
			}
			current, err := jsonOrNil(e.Current)
			if err != nil {
				return err
			}
			metadata, err := jsonOrNil(e.Metadata)
			if err != nil {
				return err
			}
			batch.Queue(sqlInsertEntry, e.ID, e.TenantID, e.ActorID, string(e.ActorType), e.Action,
				e.Resource, e.ResourceID, previous, current, e.RequestID, metadata, e.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert audit entries: %w", err)
		}
		return nil
	})
}

func jsonOrNil(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	return b, nil
}
