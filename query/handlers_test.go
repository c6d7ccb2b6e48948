package query

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-marketplace/core"
)

type stubReader struct {
	statusCalls []core.StatusRequest
	listCalls   int
	report      core.StatusReport
	due         []core.Connection
	err         error
}

func (s *stubReader) Status(ctx context.Context, req core.StatusRequest) (core.StatusReport, error) {
	s.statusCalls = append(s.statusCalls, req)
	return s.report, s.err
}

func (s *stubReader) ListRefreshDue(ctx context.Context) ([]core.Connection, error) {
	s.listCalls++
	return s.due, s.err
}

func TestGetStatusMessageValidate(t *testing.T) {
	if err := (GetStatusMessage{Request: core.StatusRequest{AccountID: "acct-1"}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (GetStatusMessage{}).Validate(); err == nil {
		t.Fatal("expected a validation error for a missing account")
	}
	if got := (GetStatusMessage{}).Type(); got != TypeGetStatus {
		t.Fatalf("unexpected type %q", got)
	}
	if got := (ListRefreshDueMessage{}).Type(); got != TypeListRefreshDue {
		t.Fatalf("unexpected type %q", got)
	}
}

func TestGetStatusQueryDelegates(t *testing.T) {
	reader := &stubReader{report: core.StatusReport{Connected: true, Health: core.HealthHealthy}}
	report, err := NewGetStatusQuery(reader).Query(context.Background(), GetStatusMessage{
		Request: core.StatusRequest{AccountID: "acct-1", RefreshIfDue: true},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !report.Connected || report.Health != core.HealthHealthy {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(reader.statusCalls) != 1 || !reader.statusCalls[0].RefreshIfDue {
		t.Fatalf("unexpected status calls: %+v", reader.statusCalls)
	}
}

func TestListRefreshDueQueryDelegates(t *testing.T) {
	reader := &stubReader{due: []core.Connection{{ID: "conn-1"}}}
	due, err := NewListRefreshDueQuery(reader).Query(context.Background(), ListRefreshDueMessage{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(due) != 1 || due[0].ID != "conn-1" {
		t.Fatalf("unexpected due list: %+v", due)
	}
	if reader.listCalls != 1 {
		t.Fatalf("expected one list call, got %d", reader.listCalls)
	}
}

func TestQueriesPropagateReaderErrors(t *testing.T) {
	reader := &stubReader{err: errors.New("boom")}
	if _, err := NewGetStatusQuery(reader).Query(context.Background(), GetStatusMessage{
		Request: core.StatusRequest{AccountID: "acct-1"},
	}); err == nil {
		t.Fatal("expected the reader error to surface")
	}
}

func TestQueriesRequireReader(t *testing.T) {
	if _, err := NewGetStatusQuery(nil).Query(context.Background(), GetStatusMessage{}); err == nil {
		t.Fatal("expected a dependency error")
	}
	if _, err := NewListRefreshDueQuery(nil).Query(context.Background(), ListRefreshDueMessage{}); err == nil {
		t.Fatal("expected a dependency error")
	}
}
