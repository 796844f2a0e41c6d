// Package sink persists contract listings. Every sink has overwrite
// semantics: a write replaces whatever the previous run stored for the
// same target.
package sink

import (
	"context"
	"strings"
)

// Sink writes a contract listing for one chain.
type Sink interface {
	Write(ctx context.Context, chain string, contracts []string) error
	Close() error
}

// Open returns the sink for target: a Postgres table for postgres:// and
// postgresql:// connection strings, otherwise a line-delimited file.
func Open(ctx context.Context, target string) (Sink, error) {
	if IsPostgres(target) {
		return NewPostgresSink(ctx, target, DefaultTable)
	}
	return NewFileSink(target), nil
}

// IsPostgres reports whether target is a Postgres connection string.
func IsPostgres(target string) bool {
	t := strings.ToLower(target)
	return strings.HasPrefix(t, "postgres://") || strings.HasPrefix(t, "postgresql://")
}
