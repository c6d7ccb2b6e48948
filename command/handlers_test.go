package command

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-marketplace/core"
)

type stubService struct {
	initiateCalls   []core.InitiateConnectionRequest
	completeCalls   []core.CompleteConnectionRequest
	refreshCalls    []string
	disconnectCalls []core.DisconnectRequest
	err             error
}

func (s *stubService) InitiateConnection(ctx context.Context, req core.InitiateConnectionRequest) (core.InitiateConnectionResponse, error) {
	s.initiateCalls = append(s.initiateCalls, req)
	return core.InitiateConnectionResponse{State: "state-1"}, s.err
}

func (s *stubService) CompleteConnection(ctx context.Context, req core.CompleteConnectionRequest) (core.ConnectionResult, error) {
	s.completeCalls = append(s.completeCalls, req)
	return core.ConnectionResult{Health: core.HealthHealthy}, s.err
}

func (s *stubService) RefreshNow(ctx context.Context, accountID string) (core.RefreshOutcome, error) {
	s.refreshCalls = append(s.refreshCalls, accountID)
	return core.RefreshOutcome{Attempts: 1}, s.err
}

func (s *stubService) Disconnect(ctx context.Context, req core.DisconnectRequest) error {
	s.disconnectCalls = append(s.disconnectCalls, req)
	return s.err
}

func TestMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{name: "initiate valid", msg: InitiateConnectionMessage{Request: core.InitiateConnectionRequest{AccountID: "acct-1"}}},
		{name: "initiate missing account", msg: InitiateConnectionMessage{}, wantErr: true},
		{name: "complete valid", msg: CompleteConnectionMessage{Request: core.CompleteConnectionRequest{
			AccountID: "acct-1", Code: "auth-code", State: "state-1",
		}}},
		{name: "complete missing code", msg: CompleteConnectionMessage{Request: core.CompleteConnectionRequest{
			AccountID: "acct-1", State: "state-1",
		}}, wantErr: true},
		{name: "complete missing state", msg: CompleteConnectionMessage{Request: core.CompleteConnectionRequest{
			AccountID: "acct-1", Code: "auth-code",
		}}, wantErr: true},
		{name: "refresh valid", msg: RefreshMessage{AccountID: "acct-1"}},
		{name: "refresh missing account", msg: RefreshMessage{}, wantErr: true},
		{name: "disconnect valid", msg: DisconnectMessage{Request: core.DisconnectRequest{AccountID: "acct-1", Confirm: true}}},
		{name: "disconnect unconfirmed", msg: DisconnectMessage{Request: core.DisconnectRequest{AccountID: "acct-1"}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMessageTypes(t *testing.T) {
	if got := (InitiateConnectionMessage{}).Type(); got != TypeInitiateConnection {
		t.Fatalf("unexpected type %q", got)
	}
	if got := (CompleteConnectionMessage{}).Type(); got != TypeCompleteConnection {
		t.Fatalf("unexpected type %q", got)
	}
	if got := (RefreshMessage{}).Type(); got != TypeRefresh {
		t.Fatalf("unexpected type %q", got)
	}
	if got := (DisconnectMessage{}).Type(); got != TypeDisconnect {
		t.Fatalf("unexpected type %q", got)
	}
}

func TestCommandsDelegateToService(t *testing.T) {
	ctx := context.Background()
	service := &stubService{}

	if err := NewInitiateConnectionCommand(service).Execute(ctx, InitiateConnectionMessage{
		Request: core.InitiateConnectionRequest{AccountID: "acct-1", SiteID: "MLA"},
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(service.initiateCalls) != 1 || service.initiateCalls[0].SiteID != "MLA" {
		t.Fatalf("unexpected initiate calls: %+v", service.initiateCalls)
	}

	if err := NewCompleteConnectionCommand(service).Execute(ctx, CompleteConnectionMessage{
		Request: core.CompleteConnectionRequest{AccountID: "acct-1", Code: "auth-code", State: "state-1"},
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(service.completeCalls) != 1 {
		t.Fatalf("expected one complete call, got %d", len(service.completeCalls))
	}

	if err := NewRefreshCommand(service).Execute(ctx, RefreshMessage{AccountID: "acct-1"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(service.refreshCalls) != 1 || service.refreshCalls[0] != "acct-1" {
		t.Fatalf("unexpected refresh calls: %v", service.refreshCalls)
	}

	if err := NewDisconnectCommand(service).Execute(ctx, DisconnectMessage{
		Request: core.DisconnectRequest{AccountID: "acct-1", Confirm: true},
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(service.disconnectCalls) != 1 || !service.disconnectCalls[0].Confirm {
		t.Fatalf("unexpected disconnect calls: %+v", service.disconnectCalls)
	}
}

func TestCommandsPropagateServiceErrors(t *testing.T) {
	ctx := context.Background()
	service := &stubService{err: errors.New("boom")}

	if err := NewRefreshCommand(service).Execute(ctx, RefreshMessage{AccountID: "acct-1"}); err == nil {
		t.Fatal("expected the service error to surface")
	}
}

func TestCommandsRequireService(t *testing.T) {
	ctx := context.Background()
	if err := NewInitiateConnectionCommand(nil).Execute(ctx, InitiateConnectionMessage{}); err == nil {
		t.Fatal("expected a dependency error")
	}
	if err := NewCompleteConnectionCommand(nil).Execute(ctx, CompleteConnectionMessage{}); err == nil {
		t.Fatal("expected a dependency error")
	}
	if err := NewRefreshCommand(nil).Execute(ctx, RefreshMessage{}); err == nil {
		t.Fatal("expected a dependency error")
	}
	if err := NewDisconnectCommand(nil).Execute(ctx, DisconnectMessage{}); err == nil {
		t.Fatal("expected a dependency error")
	}
}
