package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaybot/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("registry.dsn is required for postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse registry.dsn: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(pctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	schema, err := schemaFS.ReadFile("schema/postgres.sql")
	if err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(pctx, string(schema)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.String("host", poolCfg.ConnConfig.Host))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) LoadDestinations(ctx context.Context) ([]int64, error) {
	var savedAt string
	err := s.pool.QueryRow(ctx, `SELECT v FROM relay_registry_meta WHERE k = $1`, savedAtKey).Scan(&savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT chat_id FROM relay_destinations ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return ids, nil
}

func (s *postgresStore) SaveDestinations(ctx context.Context, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM relay_destinations`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO relay_destinations(chat_id) SELECT DISTINCT unnest($1::bigint[])`, ids,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO relay_registry_meta(k, v) VALUES($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`,
			savedAtKey, time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
