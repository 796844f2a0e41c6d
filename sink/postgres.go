package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is the table PostgresSink writes to unless told otherwise.
const DefaultTable = "pair_contracts"

// PostgresSink stores listings in a table keyed by (chain, contract). A
// write replaces every row of its chain in one transaction.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresSink connects to connStr and ensures the table exists.
func NewPostgresSink(ctx context.Context, connStr, table string) (*PostgresSink, error) {
	if table == "" {
		table = DefaultTable
	}
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("sink: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sink: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: ping postgres: %w", err)
	}

	ident := pgx.Identifier{table}.Sanitize()
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+ident+` (
			chain TEXT NOT NULL,
			contract TEXT NOT NULL,
			scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chain, contract)
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: create table: %w", err)
	}
	return &PostgresSink{pool: pool, table: ident}, nil
}

func (p *PostgresSink) Write(ctx context.Context, chain string, contracts []string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sink: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM `+p.table+` WHERE chain = $1`, chain); err != nil {
		return fmt.Errorf("sink: clear chain %s: %w", chain, err)
	}

	b := &pgx.Batch{}
	for _, c := range contracts {
		b.Queue(`INSERT INTO `+p.table+` (chain, contract) VALUES ($1, $2) ON CONFLICT DO NOTHING`, chain, c)
	}
	if b.Len() > 0 {
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("sink: insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sink: commit: %w", err)
	}
	return nil
}

func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresSink) String() string { return "postgres:" + p.table }
