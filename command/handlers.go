package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-marketplace/core"
)

type MutatingService interface {
	InitiateConnection(ctx context.Context, req core.InitiateConnectionRequest) (core.InitiateConnectionResponse, error)
	CompleteConnection(ctx context.Context, req core.CompleteConnectionRequest) (core.ConnectionResult, error)
	RefreshNow(ctx context.Context, accountID string) (core.RefreshOutcome, error)
	Disconnect(ctx context.Context, req core.DisconnectRequest) error
}

type InitiateConnectionCommand struct {
	service MutatingService
}

func NewInitiateConnectionCommand(service MutatingService) *InitiateConnectionCommand {
	return &InitiateConnectionCommand{service: service}
}

func (c *InitiateConnectionCommand) Execute(ctx context.Context, msg InitiateConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: initiate connection service is required")
	}
	out, err := c.service.InitiateConnection(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteConnectionCommand struct {
	service MutatingService
}

func NewCompleteConnectionCommand(service MutatingService) *CompleteConnectionCommand {
	return &CompleteConnectionCommand{service: service}
}

func (c *CompleteConnectionCommand) Execute(ctx context.Context, msg CompleteConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: complete connection service is required")
	}
	out, err := c.service.CompleteConnection(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.RefreshNow(ctx, msg.AccountID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.Request)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
