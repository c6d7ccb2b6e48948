package query

import (
	"context"

	"github.com/goliatone/go-marketplace/core"
)

type StatusReader interface {
	Status(ctx context.Context, req core.StatusRequest) (core.StatusReport, error)
}

type RefreshDueReader interface {
	ListRefreshDue(ctx context.Context) ([]core.Connection, error)
}

type GetStatusQuery struct {
	reader StatusReader
}

func NewGetStatusQuery(reader StatusReader) *GetStatusQuery {
	return &GetStatusQuery{reader: reader}
}

func (q *GetStatusQuery) Query(ctx context.Context, msg GetStatusMessage) (core.StatusReport, error) {
	if q == nil || q.reader == nil {
		return core.StatusReport{}, queryDependencyError("query: status reader is required")
	}
	return q.reader.Status(ctx, msg.Request)
}

type ListRefreshDueQuery struct {
	reader RefreshDueReader
}

func NewListRefreshDueQuery(reader RefreshDueReader) *ListRefreshDueQuery {
	return &ListRefreshDueQuery{reader: reader}
}

func (q *ListRefreshDueQuery) Query(ctx context.Context, msg ListRefreshDueMessage) ([]core.Connection, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: refresh due reader is required")
	}
	return q.reader.ListRefreshDue(ctx)
}
