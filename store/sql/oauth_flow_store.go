package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-marketplace/core"
	"github.com/uptrace/bun"
)

// OAuthFlowStore is the durable pending-handshake store. Consume marks the
// row inside a transaction so a state value resolves exactly once even with
// concurrent callbacks.
type OAuthFlowStore struct {
	db   *bun.DB
	repo repository.Repository[*oauthFlowRecord]
}

func NewOAuthFlowStore(db *bun.DB) (*OAuthFlowStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*oauthFlowRecord](db, oauthFlowHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid oauth flow repository wiring: %w", err)
		}
	}
	return &OAuthFlowStore{db: db, repo: repo}, nil
}

func (s *OAuthFlowStore) Save(ctx context.Context, record core.OAuthFlowRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: oauth flow store is not configured")
	}
	if strings.TrimSpace(record.State) == "" {
		return fmt.Errorf("sqlstore: oauth flow state is required")
	}
	if strings.TrimSpace(record.AccountID) == "" {
		return fmt.Errorf("sqlstore: account id is required")
	}

	_, err := s.repo.Create(ctx, newOAuthFlowRecord(record, time.Now().UTC()))
	return err
}

func (s *OAuthFlowStore) Consume(ctx context.Context, state string) (core.OAuthFlowRecord, error) {
	if s == nil || s.db == nil {
		return core.OAuthFlowRecord{}, fmt.Errorf("sqlstore: oauth flow store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return core.OAuthFlowRecord{}, core.ErrOAuthFlowNotFound
	}

	now := time.Now().UTC()
	var consumed core.OAuthFlowRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &oauthFlowRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.state = ?", state).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrOAuthFlowNotFound
			}
			return err
		}
		if record.ConsumedAt != nil {
			return core.ErrOAuthFlowNotFound
		}

		result, err := tx.NewUpdate().
			Model((*oauthFlowRecord)(nil)).
			Set("consumed_at = ?", now).
			Where("state = ?", state).
			Where("consumed_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return core.ErrOAuthFlowNotFound
		}
		if !record.ExpiresAt.After(now) {
			return core.ErrOAuthFlowExpired
		}
		consumed = record.toDomain()
		return nil
	})
	if err != nil {
		return core.OAuthFlowRecord{}, err
	}
	return consumed, nil
}

// PurgeExpired removes flows past their TTL; run it from a maintenance job.
func (s *OAuthFlowStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: oauth flow store is not configured")
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}
	result, err := s.db.NewDelete().
		Model((*oauthFlowRecord)(nil)).
		Where("expires_at <= ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

var _ core.OAuthFlowStore = (*OAuthFlowStore)(nil)
