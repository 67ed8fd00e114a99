// Package store persists decision records to SQLite or MySQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Store provides database-backed persistence for decision records.
type Store struct {
	db      *sql.DB
	dialect string
}

// ParseDSN splits a "driver:dsn" flag value. A bare path is treated as SQLite.
func ParseDSN(s string) (driver, dsn string, err error) {
	if s == "" {
		return "", "", fmt.Errorf("empty database setting")
	}
	prefix, rest, found := strings.Cut(s, ":")
	switch {
	case found && (prefix == DriverSQLite || prefix == DriverMySQL):
		if rest == "" {
			return "", "", fmt.Errorf("database setting %q has no dsn", s)
		}
		return prefix, rest, nil
	default:
		return DriverSQLite, s, nil
	}
}

// Open connects to the database, verifies it is reachable and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverMySQL:
	default:
		return nil, fmt.Errorf("open store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY between them.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("open store: enable wal: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store: ping: %w", err)
	}

	s, err := New(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New returns a Store bound to an existing database handle.
func New(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Store{db: db, dialect: dialect}, nil
}

func nullable(t logic.Temperature) any {
	if !t.Valid {
		return nil
	}
	return t.F
}

func fromNullable(n sql.NullFloat64) logic.Temperature {
	if !n.Valid {
		return logic.Missing
	}
	return logic.Fahrenheit(n.Float64)
}

// Record inserts one decision row.
func (s *Store) Record(ctx context.Context, rec logic.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("record decision: store is nil")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (recorded_at, hot_tub_f, solar_f, ambient_f, delta_f, pump, heater, action, rule, note, duration, read_failures)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		nullable(rec.HotTubF),
		nullable(rec.SolarF),
		nullable(rec.AmbientF),
		nullable(rec.Delta),
		string(rec.Pump),
		string(rec.Heater),
		string(rec.Action),
		string(rec.Rule),
		rec.Note,
		rec.Duration,
		rec.ReadFailures,
	)
	if err != nil {
		return fmt.Errorf("record decision: insert: %w", err)
	}
	return nil
}

// Recent returns up to n decisions, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]logic.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("recent decisions: store is nil")
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT recorded_at, hot_tub_f, solar_f, ambient_f, delta_f, pump, heater, action, rule, note, duration, read_failures
		 FROM decisions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: query: %w", err)
	}
	defer rows.Close()

	var out []logic.Record
	for rows.Next() {
		var (
			at                         string
			tub, solar, ambient, delta sql.NullFloat64
			pump, heater, action, rule string
			note, duration             string
			failures                   int
		)
		if err := rows.Scan(&at, &tub, &solar, &ambient, &delta, &pump, &heater, &action, &rule, &note, &duration, &failures); err != nil {
			return nil, fmt.Errorf("recent decisions: scan: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("recent decisions: parse timestamp %q: %w", at, err)
		}
		out = append(out, logic.Record{
			Timestamp:    ts,
			HotTubF:      fromNullable(tub),
			SolarF:       fromNullable(solar),
			AmbientF:     fromNullable(ambient),
			Delta:        fromNullable(delta),
			Pump:         logic.PowerState(pump),
			Heater:       logic.PowerState(heater),
			Action:       logic.Action(action),
			Rule:         logic.Rule(rule),
			Note:         note,
			Duration:     duration,
			ReadFailures: failures,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent decisions: rows: %w", err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
