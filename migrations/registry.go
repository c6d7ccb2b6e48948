// Package migrations exposes the embedded marketplace schema to a migration
// runner. One numbered pair exists per dialect: postgres carries the canonical
// DDL and sqlite mirrors it for tests and single-node installs.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	marketplace "github.com/goliatone/go-marketplace"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// SourceLabel identifies this module's migrations to the runner.
const SourceLabel = "go-marketplace"

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc receives one dialect's migration filesystem. Hosts usually put
// the persistence client's RegisterSQLMigrations behind it.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*registration)

type registration struct {
	targets map[string]bool
}

// WithValidationTargets limits registration to the named dialects. Blank
// entries are skipped; without targets both dialects register.
func WithValidationTargets(targets ...string) Option {
	return func(r *registration) {
		selected := make(map[string]bool, len(targets))
		for _, target := range targets {
			dialect := strings.TrimSpace(strings.ToLower(target))
			if dialect != "" {
				selected[dialect] = true
			}
		}
		if len(selected) > 0 {
			r.targets = selected
		}
	}
}

// Filesystems resolves the embedded migration tree into one filesystem per
// dialect and verifies each carries at least one up migration.
func Filesystems() ([]FilesystemSpec, error) {
	root := marketplace.GetCoreMigrationsFS()
	base, err := fs.Sub(root, "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve postgres filesystem: %w", err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: "data/sql/migrations", FS: base},
		{Dialect: DialectSQLite, Path: "data/sql/migrations/sqlite", FS: sqliteFS},
	}
	for _, spec := range filesystems {
		matches, globErr := fs.Glob(spec.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", spec.Dialect, spec.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", spec.Dialect, spec.Path)
		}
	}
	return filesystems, nil
}

// Register hands each selected dialect's filesystem to registerFn and returns
// the specs it registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]FilesystemSpec, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}

	reg := registration{targets: map[string]bool{DialectPostgres: true, DialectSQLite: true}}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	filesystems, err := Filesystems()
	if err != nil {
		return nil, err
	}

	registered := make([]FilesystemSpec, 0, len(filesystems))
	for _, spec := range filesystems {
		if !reg.targets[spec.Dialect] {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, SourceLabel, spec.FS); err != nil {
			return nil, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
		registered = append(registered, spec)
	}
	return registered, nil
}
