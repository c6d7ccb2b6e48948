package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-marketplace/core"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the bun-backed stores from either a raw *bun.DB
// or a go-persistence-bun client.
type RepositoryFactory struct {
	db *bun.DB

	connectionStore    *ConnectionStore
	credentialStore    *CredentialStore
	oauthFlowStore     *OAuthFlowStore
	rateLimitStore     *RateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.ConnectionStore, core.CredentialStore, error) {
	if f == nil {
		return nil, nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, nil, err
		}
		f.db = db
	}
	if f.connectionStore == nil || f.credentialStore == nil {
		if err := f.initStores(); err != nil {
			return nil, nil, err
		}
	}
	return f.connectionStore, f.credentialStore, nil
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) OAuthFlowStore() *OAuthFlowStore {
	if f == nil {
		return nil
	}
	return f.oauthFlowStore
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	connectionRepo := repository.NewRepository[*connectionRecord](f.db, connectionHandlers())
	if validator, ok := connectionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}

	credentialRepo := repository.NewRepository[*credentialRecord](f.db, credentialHandlers())
	if validator, ok := credentialRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}

	f.connectionStore = &ConnectionStore{
		db:   f.db,
		repo: connectionRepo,
	}
	f.credentialStore = &CredentialStore{
		db:   f.db,
		repo: credentialRepo,
	}

	oauthFlowStore, err := NewOAuthFlowStore(f.db)
	if err != nil {
		return err
	}
	f.oauthFlowStore = oauthFlowStore

	rateLimitStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateLimitStore = rateLimitStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var (
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
)
