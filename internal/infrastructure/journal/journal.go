// Package journal persists stop-triggered closes to SQLite for later review.
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/zono819/hyperliquid-dryrun/internal/adapter/gateway"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/logger"
)

var _ gateway.TradeRecorder = (*Journal)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS stop_closes (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	order_id      INTEGER NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	entry_price   TEXT NOT NULL,
	trigger_price TEXT NOT NULL,
	fill_price    TEXT NOT NULL,
	quantity      TEXT NOT NULL,
	fee           TEXT NOT NULL,
	realized_pnl  TEXT NOT NULL,
	closed        INTEGER NOT NULL,
	opened_at     INTEGER NOT NULL,
	triggered_at  INTEGER NOT NULL,
	created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_stop_closes_session ON stop_closes(session_id);
CREATE INDEX IF NOT EXISTS idx_stop_closes_symbol ON stop_closes(symbol, triggered_at);
`

// Journal is a TradeRecorder backed by a SQLite file. Each Journal tags
// its rows with a fresh session id so runs sharing a file stay separable.
type Journal struct {
	mu      sync.Mutex
	db      *sql.DB
	session string
	log     *logger.Logger
}

// Open opens (or creates) the journal database at path
func Open(path string, log *logger.Logger) (*Journal, error) {
	if log == nil {
		log = logger.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create journal schema")
	}

	j := &Journal{
		db:      db,
		session: uuid.NewString(),
		log:     log.WithField("component", "journal"),
	}
	j.log.Info("Opened trade journal at %s (session %s)", path, j.session)
	return j, nil
}

// SessionID returns the id stamped on rows written by this Journal
func (j *Journal) SessionID() string {
	return j.session
}

// RecordStopClose persists one stop-triggered close
func (j *Journal) RecordStopClose(ctx context.Context, sc entity.StopClose) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	closed := 0
	if sc.Closed {
		closed = 1
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO stop_closes (session_id, order_id, symbol, side, entry_price, trigger_price,
		 fill_price, quantity, fee, realized_pnl, closed, opened_at, triggered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.session,
		sc.OrderID,
		sc.Symbol,
		string(sc.Side),
		sc.EntryPrice.String(),
		sc.TriggerPrice.String(),
		sc.FillPrice.String(),
		sc.Quantity.String(),
		sc.Fee.String(),
		sc.RealizedPnL.String(),
		closed,
		sc.OpenedAt.UnixNano(),
		sc.TriggeredAt.UnixNano(),
	)
	return errors.Wrapf(err, "insert stop close %d", sc.OrderID)
}

// Recent returns the last limit stop closes of this session, newest first.
// A negative limit returns all of them.
func (j *Journal) Recent(ctx context.Context, limit int) ([]entity.StopClose, error) {
	return j.query(ctx,
		`SELECT order_id, symbol, side, entry_price, trigger_price, fill_price, quantity,
		 fee, realized_pnl, closed, opened_at, triggered_at
		 FROM stop_closes WHERE session_id = ? ORDER BY id DESC LIMIT ?`, j.session, limit)
}

// Since returns this session's stop closes triggered at or after t, newest first
func (j *Journal) Since(ctx context.Context, t time.Time) ([]entity.StopClose, error) {
	return j.query(ctx,
		`SELECT order_id, symbol, side, entry_price, trigger_price, fill_price, quantity,
		 fee, realized_pnl, closed, opened_at, triggered_at
		 FROM stop_closes WHERE session_id = ? AND triggered_at >= ? ORDER BY id DESC`, j.session, t.UnixNano())
}

func (j *Journal) query(ctx context.Context, q string, args ...interface{}) ([]entity.StopClose, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query stop closes")
	}
	defer rows.Close()

	var out []entity.StopClose
	for rows.Next() {
		sc, err := scanStopClose(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, errors.Wrap(rows.Err(), "iterate stop closes")
}

// Summary aggregates this session's stop closes
type Summary struct {
	Count       int
	Wins        int
	Losses      int
	RealizedPnL decimal.Decimal
	Fees        decimal.Decimal
}

// NetPnL returns realized pnl after fees
func (s Summary) NetPnL() decimal.Decimal {
	return s.RealizedPnL.Sub(s.Fees)
}

// Summarize aggregates every stop close recorded in this session
func (j *Journal) Summarize(ctx context.Context) (Summary, error) {
	closes, err := j.Recent(ctx, -1)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, sc := range closes {
		s.Count++
		if sc.IsWin() {
			s.Wins++
		} else {
			s.Losses++
		}
		s.RealizedPnL = s.RealizedPnL.Add(sc.RealizedPnL)
		s.Fees = s.Fees.Add(sc.Fee)
	}
	return s, nil
}

// Close closes the journal database
func (j *Journal) Close() error {
	return j.db.Close()
}

func scanStopClose(rows *sql.Rows) (entity.StopClose, error) {
	var (
		sc                    entity.StopClose
		side                  string
		closed                int
		openedAt, triggeredAt int64

		entry, trigger, fill, qty, fee, pnl string
	)
	if err := rows.Scan(&sc.OrderID, &sc.Symbol, &side, &entry, &trigger, &fill, &qty,
		&fee, &pnl, &closed, &openedAt, &triggeredAt); err != nil {
		return sc, errors.Wrap(err, "scan stop close")
	}

	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{entry, &sc.EntryPrice},
		{trigger, &sc.TriggerPrice},
		{fill, &sc.FillPrice},
		{qty, &sc.Quantity},
		{fee, &sc.Fee},
		{pnl, &sc.RealizedPnL},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return sc, errors.Wrapf(err, "parse %q", f.raw)
		}
		*f.dst = v
	}

	sc.Side = entity.Side(side)
	sc.Closed = closed == 1
	sc.OpenedAt = time.Unix(0, openedAt)
	sc.TriggeredAt = time.Unix(0, triggeredAt)
	return sc, nil
}
