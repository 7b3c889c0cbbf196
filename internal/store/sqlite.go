package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"investloader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ InstrumentStore = (*SQLiteStore)(nil)
var _ FactStore = (*SQLiteStore)(nil)

// SQLiteStore implements InstrumentStore and FactStore backed by a SQLite
// database. The UNIQUE(figi, trading_date) constraints on the fact tables
// are the correctness backstop for concurrent sync runs.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS instruments (
	figi     TEXT PRIMARY KEY,
	ticker   TEXT NOT NULL,
	type     TEXT NOT NULL,
	currency TEXT NOT NULL,
	exchange TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instruments_type ON instruments(type);

CREATE TABLE IF NOT EXISTS close_prices (
	figi                  TEXT NOT NULL,
	trading_date          TEXT NOT NULL,
	close_price           TEXT NOT NULL,
	evening_session_price TEXT,
	instrument_type       TEXT NOT NULL,
	currency              TEXT NOT NULL,
	exchange              TEXT NOT NULL,
	UNIQUE(figi, trading_date)
);

CREATE TABLE IF NOT EXISTS evening_session_prices (
	figi                  TEXT NOT NULL,
	trading_date          TEXT NOT NULL,
	close_price           TEXT NOT NULL,
	evening_session_price TEXT,
	instrument_type       TEXT NOT NULL,
	currency              TEXT NOT NULL,
	exchange              TEXT NOT NULL,
	UNIQUE(figi, trading_date)
);

CREATE TABLE IF NOT EXISTS open_prices (
	figi                  TEXT NOT NULL,
	trading_date          TEXT NOT NULL,
	close_price           TEXT NOT NULL,
	evening_session_price TEXT,
	instrument_type       TEXT NOT NULL,
	currency              TEXT NOT NULL,
	exchange              TEXT NOT NULL,
	UNIQUE(figi, trading_date)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// InstrumentStore implementation
// ---------------------------------------------------------------------------

// UpsertInstruments inserts or refreshes instrument identity records.
func (s *SQLiteStore) UpsertInstruments(ctx context.Context, instruments []domain.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments (figi, ticker, type, currency, exchange)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(figi) DO UPDATE SET
			ticker = excluded.ticker,
			type = excluded.type,
			currency = excluded.currency,
			exchange = excluded.exchange`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, in := range instruments {
		if _, err := stmt.ExecContext(ctx, in.FIGI, in.Ticker, string(in.Type), in.Currency, in.Exchange); err != nil {
			return fmt.Errorf("upserting %s: %w", in.FIGI, err)
		}
	}
	return tx.Commit()
}

// ListInstruments returns all instruments of the given type ordered by FIGI.
func (s *SQLiteStore) ListInstruments(ctx context.Context, t domain.InstrumentType) ([]domain.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT figi, ticker, type, currency, exchange
		FROM instruments WHERE type = ? ORDER BY figi`, string(t))
	if err != nil {
		return nil, fmt.Errorf("listing instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var in domain.Instrument
		var typ string
		if err := rows.Scan(&in.FIGI, &in.Ticker, &typ, &in.Currency, &in.Exchange); err != nil {
			return nil, fmt.Errorf("scanning instrument: %w", err)
		}
		in.Type = domain.InstrumentType(typ)
		out = append(out, in)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// FactStore implementation
// ---------------------------------------------------------------------------

func factTable(session domain.Session) string {
	switch session {
	case domain.SessionMorning:
		return "open_prices"
	case domain.SessionEvening:
		return "evening_session_prices"
	default:
		return "close_prices"
	}
}

// ExistsFact reports whether a fact for (figi, tradingDate) is already
// persisted for the given session.
func (s *SQLiteStore) ExistsFact(ctx context.Context, session domain.Session, figi string, tradingDate time.Time) (bool, error) {
	query := fmt.Sprintf(
		`SELECT 1 FROM %s WHERE figi = ? AND trading_date = ? LIMIT 1`, factTable(session))

	var one int
	err := s.db.QueryRowContext(ctx, query, figi, tradingDate.Format("2006-01-02")).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking fact existence: %w", err)
	}
	return true, nil
}

// SaveFact inserts a new fact, returning ErrDuplicateFact when the natural
// key is already taken.
func (s *SQLiteStore) SaveFact(ctx context.Context, session domain.Session, fact domain.ClosePriceFact) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (figi, trading_date, close_price, evening_session_price,
			instrument_type, currency, exchange)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, factTable(session))

	var evening any
	if fact.EveningSessionPrice != nil {
		evening = fact.EveningSessionPrice.String()
	}

	_, err := s.db.ExecContext(ctx, query,
		fact.FIGI,
		fact.TradingDate.Format("2006-01-02"),
		fact.ClosePrice.String(),
		evening,
		string(fact.InstrumentType),
		fact.Currency,
		fact.Exchange,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateFact
		}
		return fmt.Errorf("saving fact %s/%s: %w", fact.FIGI, fact.TradingDate.Format("2006-01-02"), err)
	}
	return nil
}

// ListFacts returns all facts persisted for the given session and trading
// date, ordered by FIGI. Used by the read-side API.
func (s *SQLiteStore) ListFacts(ctx context.Context, session domain.Session, tradingDate time.Time) ([]domain.ClosePriceFact, error) {
	query := fmt.Sprintf(`
		SELECT figi, trading_date, close_price, evening_session_price,
			instrument_type, currency, exchange
		FROM %s WHERE trading_date = ? ORDER BY figi`, factTable(session))

	rows, err := s.db.QueryContext(ctx, query, tradingDate.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosePriceFact
	for rows.Next() {
		var (
			f        domain.ClosePriceFact
			dateStr  string
			priceStr string
			evening  sql.NullString
			typeStr  string
		)
		if err := rows.Scan(&f.FIGI, &dateStr, &priceStr, &evening, &typeStr, &f.Currency, &f.Exchange); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		f.TradingDate, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing trading date %q: %w", dateStr, err)
		}
		f.ClosePrice, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parsing close price %q: %w", priceStr, err)
		}
		if evening.Valid {
			p, err := decimal.NewFromString(evening.String)
			if err != nil {
				return nil, fmt.Errorf("parsing evening price %q: %w", evening.String, err)
			}
			f.EveningSessionPrice = &p
		}
		f.InstrumentType = domain.InstrumentType(typeStr)
		out = append(out, f)
	}
	return out, rows.Err()
}
