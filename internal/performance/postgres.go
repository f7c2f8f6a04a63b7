package performance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore persists pattern+regime performance in PostgreSQL so the
// historical-edge factor survives restarts.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects, tunes the pool, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With().Str("component", "PerformanceStore").Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info().Msg("performance store ready")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pattern_performance (
			pattern_name   TEXT NOT NULL,
			regime         TEXT NOT NULL,
			total_trades   INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			total_pnl      DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_r        DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (pattern_name, regime)
		)`)
	if err != nil {
		return fmt.Errorf("creating pattern_performance table: %w", err)
	}
	return nil
}

// Get loads the record for one pattern+regime pair.
func (s *PostgresStore) Get(ctx context.Context, pattern, regime string) (Record, bool, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT pattern_name, regime, total_trades, winning_trades, total_pnl, total_r
		FROM pattern_performance
		WHERE pattern_name = $1 AND regime = $2`,
		pattern, regime,
	).Scan(&rec.PatternName, &rec.Regime, &rec.TotalTrades, &rec.WinningTrades, &rec.TotalPnL, &rec.TotalR)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("loading performance record: %w", err)
	}
	rec.recompute()
	return rec, true, nil
}

// Add upserts one closed trade into the pair's row.
func (s *PostgresStore) Add(ctx context.Context, result TradeResult) error {
	win := 0
	if result.Won {
		win = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pattern_performance (pattern_name, regime, total_trades, winning_trades, total_pnl, total_r, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5, NOW())
		ON CONFLICT (pattern_name, regime) DO UPDATE SET
			total_trades   = pattern_performance.total_trades + 1,
			winning_trades = pattern_performance.winning_trades + $3,
			total_pnl      = pattern_performance.total_pnl + $4,
			total_r        = pattern_performance.total_r + $5,
			updated_at     = NOW()`,
		result.PatternName, result.Regime, win, result.PnL, result.RMultiple)
	if err != nil {
		return fmt.Errorf("recording trade result: %w", err)
	}
	return nil
}

// All returns every stored record with derived win rate and average R.
func (s *PostgresStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pattern_name, regime, total_trades, winning_trades, total_pnl, total_r
		FROM pattern_performance
		ORDER BY pattern_name, regime`)
	if err != nil {
		return nil, fmt.Errorf("querying performance records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.PatternName, &rec.Regime, &rec.TotalTrades, &rec.WinningTrades, &rec.TotalPnL, &rec.TotalR); err != nil {
			return nil, fmt.Errorf("scanning performance record: %w", err)
		}
		rec.recompute()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
