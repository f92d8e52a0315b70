package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// SQLiteStore is an embedded, single-file Store backend used by the
// backtest/offline CLI mode so replaying fixtures needs no external MySQL
// (grounded on the teacher pack's eve-flipper sql.Open("sqlite", ...) plus
// a hand-rolled schema, adapted to this domain's six tables).
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore creates a store backed by the file at path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Open opens (or creates) the database file and applies the schema.
func (s *SQLiteStore) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("store: open sqlite %s: %w", s.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("store: apply schema: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	mint TEXT PRIMARY KEY,
	creator TEXT NOT NULL,
	launched_at INTEGER NOT NULL,
	migrated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS token_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mint TEXT NOT NULL,
	calculated_at INTEGER NOT NULL,
	score REAL NOT NULL,
	signal TEXT NOT NULL,
	volume_score REAL NOT NULL,
	holder_score REAL NOT NULL,
	liquidity_score REAL NOT NULL,
	safety_score REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_token_metrics_mint ON token_metrics(mint, calculated_at);

CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	mint TEXT NOT NULL,
	type TEXT NOT NULL,
	score REAL NOT NULL,
	breakdown TEXT NOT NULL,
	time INTEGER NOT NULL,
	executed INTEGER NOT NULL DEFAULT 0,
	executed_at INTEGER,
	result TEXT
);
CREATE INDEX IF NOT EXISTS idx_signals_mint ON signals(mint, time);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	mint TEXT NOT NULL,
	side TEXT NOT NULL,
	amount_lamports INTEGER NOT NULL,
	slippage_bps INTEGER NOT NULL,
	priority_fee_lamports INTEGER NOT NULL,
	status TEXT NOT NULL,
	wallet TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	route TEXT,
	position_id TEXT,
	exit_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_mint ON trades(mint, created_at);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	mint TEXT NOT NULL,
	status TEXT NOT NULL,
	wallet TEXT NOT NULL,
	entry_price REAL NOT NULL,
	entry_time INTEGER NOT NULL,
	initial_amount INTEGER NOT NULL,
	current_amount INTEGER NOT NULL,
	cost_basis_lamports INTEGER NOT NULL,
	realized_pnl_lamports INTEGER NOT NULL,
	exit_reason TEXT
);

CREATE TABLE IF NOT EXISTS bot_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	value TEXT NOT NULL
);
`

// UpsertToken inserts or refreshes a tracked token's row.
func (s *SQLiteStore) UpsertToken(ctx context.Context, token types.TokenId, creator string, launchedAt types.Timestamp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (mint, creator, launched_at, migrated) VALUES (?, ?, ?, 0)
		ON CONFLICT(mint) DO UPDATE SET creator = excluded.creator, launched_at = excluded.launched_at
	`, token.String(), creator, int64(launchedAt))
	return err
}

// SaveTokenMetrics appends one aggregator-tick row to the time series.
func (s *SQLiteStore) SaveTokenMetrics(ctx context.Context, token types.TokenId, m types.MomentumMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_metrics (mint, calculated_at, score, signal, volume_score, holder_score, liquidity_score, safety_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, token.String(), int64(m.CalculatedAt), m.Score, string(m.Signal), m.VolumeScore, m.HolderScore, m.LiquidityScore, m.SafetyScore)
	return err
}

// SaveSignals writes a batch of signal records inside one transaction.
func (s *SQLiteStore) SaveSignals(ctx context.Context, signals []types.SignalRecord) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO signals (id, mint, type, score, breakdown, time, executed, executed_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sig := range signals {
		breakdown, _ := json.Marshal(sig.Breakdown)
		var executedAt *int64
		if sig.ExecutedAt != nil {
			v := int64(*sig.ExecutedAt)
			executedAt = &v
		}
		if _, err := stmt.ExecContext(ctx, sig.ID, sig.Token.String(), string(sig.Type), sig.Score,
			string(breakdown), int64(sig.Time), sig.Executed, executedAt, sig.Result); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveTrade writes one order row.
func (s *SQLiteStore) SaveTrade(ctx context.Context, order types.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (id, mint, side, amount_lamports, slippage_bps, priority_fee_lamports, status, wallet, created_at, route, position_id, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.Token.String(), string(order.Side), uint64(order.Amount), order.SlippageBps, uint64(order.PriorityFee),
		string(order.Status), order.Wallet, int64(order.CreatedAt), order.Route, order.PositionID, string(order.ExitReason))
	return err
}

// SavePosition upserts a position's current state.
func (s *SQLiteStore) SavePosition(ctx context.Context, pos types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (id, mint, status, wallet, entry_price, entry_time, initial_amount, current_amount, cost_basis_lamports, realized_pnl_lamports, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pos.ID, pos.Token.String(), string(pos.Status), pos.Wallet, pos.EntryPrice, int64(pos.EntryTime),
		pos.InitialAmount, pos.CurrentAmount, uint64(pos.CostBasis), int64(pos.RealizedPnL), string(pos.ExitReason))
	return err
}

// SaveBotState upserts the single bot_state row (id=1).
func (s *SQLiteStore) SaveBotState(ctx context.Context, state BotState) error {
	raw, err := state.Marshal()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bot_state (id, value) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value
	`, string(raw))
	return err
}

// LoadBotState reads the single bot_state row, if any.
func (s *SQLiteStore) LoadBotState(ctx context.Context) (BotState, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return BotState{}, false, nil
	}
	if err != nil {
		return BotState{}, false, err
	}
	var state BotState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return BotState{}, false, err
	}
	return state, true, nil
}
