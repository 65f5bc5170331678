// Package migrations embeds the PostgreSQL schema for the rate set and audit
// stores.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed *.sql
var files embed.FS

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Migration struct {
	Name string
	SQL  string
}

// All returns the migrations in file name order.
func All() ([]Migration, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		b, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Name: name, SQL: string(b)})
	}
	return out, nil
}

// Apply runs every migration; each file is idempotent.
func Apply(ctx context.Context, db execer) ([]string, error) {
	all, err := All()
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(all))
	for _, m := range all {
		if _, err := db.Exec(ctx, m.SQL); err != nil {
			return applied, fmt.Errorf("migrations: %s: %w", m.Name, err)
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}
