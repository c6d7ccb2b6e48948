package query

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-marketplace/core"
)

const (
	TypeGetStatus      = "marketplace.query.status.get"
	TypeListRefreshDue = "marketplace.query.refresh_due.list"
)

type GetStatusMessage struct {
	Request core.StatusRequest
}

func (GetStatusMessage) Type() string { return TypeGetStatus }

func (m GetStatusMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return fmt.Errorf("query: account id is required")
	}
	return nil
}

type ListRefreshDueMessage struct{}

func (ListRefreshDueMessage) Type() string { return TypeListRefreshDue }

func (ListRefreshDueMessage) Validate() error { return nil }
