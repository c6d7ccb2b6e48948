package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-marketplace/core"
	"github.com/uptrace/bun"
)

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func (s *ConnectionStore) Create(ctx context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if strings.TrimSpace(in.AccountID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: account id is required")
	}
	if strings.TrimSpace(in.SiteID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: site id is required")
	}

	status := in.Status
	if strings.TrimSpace(string(status)) == "" {
		status = core.ConnectionStatusActive
	}
	in.Status = status

	record := newConnectionRecord(in, time.Now().UTC())
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Connection{}, err
	}
	return created.toDomain(), nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) GetByAccount(ctx context.Context, accountID string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: account id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("account_id", "=", accountID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Connection{}, err
	}
	if len(records) == 0 {
		return core.Connection{}, fmt.Errorf("sqlstore: %w for account %q", core.ErrConnectionNotFound, accountID)
	}
	return records[0].toDomain(), nil
}

func (s *ConnectionStore) ListByStatus(ctx context.Context, status core.ConnectionStatus) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(status)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	current.Status = string(status)
	current.LastError = strings.TrimSpace(reason)
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) UpdateIdentity(ctx context.Context, id string, in core.UpdateIdentityInput) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(in.SiteID) != "" {
		current.SiteID = strings.TrimSpace(in.SiteID)
	}
	current.ExternalUserID = strings.TrimSpace(in.ExternalUserID)
	current.Nickname = strings.TrimSpace(in.Nickname)
	current.Email = strings.TrimSpace(in.Email)
	if !in.LastValidatedAt.IsZero() {
		validatedAt := in.LastValidatedAt.UTC()
		current.LastValidatedAt = &validatedAt
	}
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

var _ core.ConnectionStore = (*ConnectionStore)(nil)
