package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-marketplace/core"
)

const (
	TypeInitiateConnection = "marketplace.command.connection.initiate"
	TypeCompleteConnection = "marketplace.command.connection.complete"
	TypeRefresh            = "marketplace.command.refresh"
	TypeDisconnect         = "marketplace.command.disconnect"
)

type InitiateConnectionMessage struct {
	Request core.InitiateConnectionRequest
}

func (InitiateConnectionMessage) Type() string { return TypeInitiateConnection }

func (m InitiateConnectionMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}

type CompleteConnectionMessage struct {
	Request core.CompleteConnectionRequest
}

func (CompleteConnectionMessage) Type() string { return TypeCompleteConnection }

func (m CompleteConnectionMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return fmt.Errorf("command: authorization code is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return fmt.Errorf("command: oauth state is required")
	}
	return nil
}

type RefreshMessage struct {
	AccountID string
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if strings.TrimSpace(m.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}

type DisconnectMessage struct {
	Request core.DisconnectRequest
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	if !m.Request.Confirm {
		return fmt.Errorf("command: disconnect confirmation is required")
	}
	return nil
}
