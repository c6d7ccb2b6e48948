package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-marketplace/core"
)

var (
	_ gocmd.Querier[GetStatusMessage, core.StatusReport]     = (*GetStatusQuery)(nil)
	_ gocmd.Querier[ListRefreshDueMessage, []core.Connection] = (*ListRefreshDueQuery)(nil)
)
