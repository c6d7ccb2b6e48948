package marketplace

import (
	"fmt"

	marketplacecommand "github.com/goliatone/go-marketplace/command"
	marketplacequery "github.com/goliatone/go-marketplace/query"
)

type CommandQueryService interface {
	marketplacecommand.MutatingService
	marketplacequery.StatusReader
	marketplacequery.RefreshDueReader
}

type Commands struct {
	InitiateConnection *marketplacecommand.InitiateConnectionCommand
	CompleteConnection *marketplacecommand.CompleteConnectionCommand
	Refresh            *marketplacecommand.RefreshCommand
	Disconnect         *marketplacecommand.DisconnectCommand
}

type Queries struct {
	GetStatus      *marketplacequery.GetStatusQuery
	ListRefreshDue *marketplacequery.ListRefreshDueQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	statusReader     marketplacequery.StatusReader
	refreshDueReader marketplacequery.RefreshDueReader
}

func WithStatusReader(reader marketplacequery.StatusReader) FacadeOption {
	return func(options *facadeOptions) {
		options.statusReader = reader
	}
}

func WithRefreshDueReader(reader marketplacequery.RefreshDueReader) FacadeOption {
	return func(options *facadeOptions) {
		options.refreshDueReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("marketplace: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	statusReader := cfg.statusReader
	if statusReader == nil {
		statusReader = service
	}
	refreshDueReader := cfg.refreshDueReader
	if refreshDueReader == nil {
		refreshDueReader = service
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		InitiateConnection: marketplacecommand.NewInitiateConnectionCommand(service),
		CompleteConnection: marketplacecommand.NewCompleteConnectionCommand(service),
		Refresh:            marketplacecommand.NewRefreshCommand(service),
		Disconnect:         marketplacecommand.NewDisconnectCommand(service),
	}
	facade.queries = Queries{
		GetStatus:      marketplacequery.NewGetStatusQuery(statusReader),
		ListRefreshDue: marketplacequery.NewListRefreshDueQuery(refreshDueReader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
