// Package persistence provides a SQLite-backed position and trade store,
// with a relational schema and idempotent migrations.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // pure-Go driver, registers "sqlite"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/model"
)

// schema is applied with CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS so startup migration is idempotent regardless of how many times it
// runs against an existing database file.
const schema = `
CREATE TABLE IF NOT EXISTS positions (
	local_id           TEXT PRIMARY KEY,
	broker_position_id TEXT NOT NULL DEFAULT '',
	symbol_id          INTEGER NOT NULL,
	side               INTEGER NOT NULL,
	volume             REAL NOT NULL,
	entry_price        REAL NOT NULL,
	take_profit_price  REAL NOT NULL,
	stop_loss_price    REAL NOT NULL,
	opened_at          TEXT NOT NULL,
	last_checked       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_broker_id ON positions(broker_position_id);

CREATE TABLE IF NOT EXISTS trades (
	local_id           TEXT PRIMARY KEY,
	broker_position_id TEXT NOT NULL DEFAULT '',
	symbol_id          INTEGER NOT NULL,
	side               INTEGER NOT NULL,
	volume             REAL NOT NULL,
	entry_price        REAL NOT NULL,
	exit_price         REAL NOT NULL,
	exit_reason        INTEGER NOT NULL,
	realized_pnl       REAL NOT NULL,
	opened_at          TEXT NOT NULL,
	closed_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
`

// Store is a SQLite-backed position/trade repository. All methods are safe
// for concurrent use; database/sql pools its own connections so Store holds
// no additional lock of its own.
type Store struct {
	db     *sql.DB
	logger *logrus.Entry
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema. path may be ":memory:" for tests.
func Open(path string, logger *logrus.Entry) (*Store, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("subsystem", "persistence")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "opening sqlite database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, apperror.Wrap(apperror.KindPersistence, err, "applying schema")
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPosition inserts or replaces a Position row keyed by LocalID.
func (s *Store) UpsertPosition(ctx context.Context, p model.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (local_id, broker_position_id, symbol_id, side, volume, entry_price, take_profit_price, stop_loss_price, opened_at, last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			broker_position_id = excluded.broker_position_id,
			symbol_id = excluded.symbol_id,
			side = excluded.side,
			volume = excluded.volume,
			entry_price = excluded.entry_price,
			take_profit_price = excluded.take_profit_price,
			stop_loss_price = excluded.stop_loss_price,
			opened_at = excluded.opened_at,
			last_checked = excluded.last_checked`,
		p.LocalID, p.BrokerPositionID, p.SymbolID, int(p.Side), p.Volume,
		p.EntryPrice, p.TakeProfitPrice, p.StopLossPrice,
		p.OpenedAt.UTC().Format(time.RFC3339Nano), p.LastChecked.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperror.Wrap(apperror.KindPersistence, err, fmt.Sprintf("upserting position %s", p.LocalID))
	}
	return nil
}

// DeletePosition removes a position row (used once a Trade has been recorded
// for it, or reconciliation auto-removes an orphan).
func (s *Store) DeletePosition(ctx context.Context, localID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE local_id = ?`, localID); err != nil {
		return apperror.Wrap(apperror.KindPersistence, err, fmt.Sprintf("deleting position %s", localID))
	}
	return nil
}

// LoadOpenPositions returns every persisted position row, e.g. to rehydrate
// the in-memory execution.Tracker after a restart.
func (s *Store) LoadOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, broker_position_id, symbol_id, side, volume, entry_price, take_profit_price, stop_loss_price, opened_at, last_checked
		FROM positions`)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "loading open positions")
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var side int
		var opened, checked string
		if err := rows.Scan(&p.LocalID, &p.BrokerPositionID, &p.SymbolID, &side, &p.Volume,
			&p.EntryPrice, &p.TakeProfitPrice, &p.StopLossPrice, &opened, &checked); err != nil {
			return nil, apperror.Wrap(apperror.KindPersistence, err, "scanning position row")
		}
		p.Side = model.Side(side)
		p.OpenedAt, _ = time.Parse(time.RFC3339Nano, opened)
		p.LastChecked, _ = time.Parse(time.RFC3339Nano, checked)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "iterating position rows")
	}
	return out, nil
}

// RecordTrade inserts a closed Trade row and deletes the corresponding open
// position row in one transaction, so a crash between the two never leaves
// both a position and a trade for the same LocalID.
func (s *Store) RecordTrade(ctx context.Context, t model.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Wrap(apperror.KindPersistence, err, "beginning trade transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	p := t.Position
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades (local_id, broker_position_id, symbol_id, side, volume, entry_price, exit_price, exit_reason, realized_pnl, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			exit_price = excluded.exit_price,
			exit_reason = excluded.exit_reason,
			realized_pnl = excluded.realized_pnl,
			closed_at = excluded.closed_at`,
		p.LocalID, p.BrokerPositionID, p.SymbolID, int(p.Side), p.Volume, p.EntryPrice,
		t.ExitPrice, int(t.ExitReason), t.RealizedPnL,
		p.OpenedAt.UTC().Format(time.RFC3339Nano), t.ClosedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperror.Wrap(apperror.KindPersistence, err, fmt.Sprintf("recording trade %s", p.LocalID))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE local_id = ?`, p.LocalID); err != nil {
		return apperror.Wrap(apperror.KindPersistence, err, fmt.Sprintf("deleting closed position %s", p.LocalID))
	}

	if err := tx.Commit(); err != nil {
		return apperror.Wrap(apperror.KindPersistence, err, "committing trade transaction")
	}
	return nil
}

// Trades returns every recorded trade, ordered by close time ascending.
func (s *Store) Trades(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, broker_position_id, symbol_id, side, volume, entry_price, exit_price, exit_reason, realized_pnl, opened_at, closed_at
		FROM trades ORDER BY closed_at ASC`)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "loading trades")
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, reason int
		var opened, closed string
		if err := rows.Scan(&t.Position.LocalID, &t.Position.BrokerPositionID, &t.Position.SymbolID, &side,
			&t.Position.Volume, &t.Position.EntryPrice, &t.ExitPrice, &reason, &t.RealizedPnL, &opened, &closed); err != nil {
			return nil, apperror.Wrap(apperror.KindPersistence, err, "scanning trade row")
		}
		t.Position.Side = model.Side(side)
		t.ExitReason = model.ExitReason(reason)
		t.Position.OpenedAt, _ = time.Parse(time.RFC3339Nano, opened)
		t.ClosedAt, _ = time.Parse(time.RFC3339Nano, closed)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(apperror.KindPersistence, err, "iterating trade rows")
	}
	return out, nil
}
