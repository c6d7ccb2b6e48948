package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[InitiateConnectionMessage] = (*InitiateConnectionCommand)(nil)
	_ gocmd.Commander[CompleteConnectionMessage] = (*CompleteConnectionCommand)(nil)
	_ gocmd.Commander[RefreshMessage]            = (*RefreshCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]         = (*DisconnectCommand)(nil)
)
