package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/hottub-controller/internal/logic"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "hottub.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		in         string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"sqlite:/var/lib/hottub/decisions.db", DriverSQLite, "/var/lib/hottub/decisions.db", false},
		{"mysql:user:pw@tcp(db:3306)/hottub", DriverMySQL, "user:pw@tcp(db:3306)/hottub", false},
		{"decisions.db", DriverSQLite, "decisions.db", false},
		{"mysql:", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			driver, dsn, err := ParseDSN(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("got %s/%s, want %s/%s", driver, dsn, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "postgres", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 21, 12, 0, 0, 123, time.UTC)

	first := logic.Record{
		Timestamp: base,
		HotTubF:   logic.Fahrenheit(98.25),
		SolarF:    logic.Fahrenheit(106),
		AmbientF:  logic.Missing,
		Delta:     logic.Fahrenheit(7.75),
		Pump:      logic.PowerOn,
		Heater:    logic.PowerOff,
		Action:    logic.ActionOn,
		Rule:      logic.RuleHysteresis,
		Note:      "Δ > 6.0°F; pump turned on",
		Duration:  "20 minutes",
	}
	second := logic.Record{
		Timestamp:    base.Add(5 * time.Minute),
		Pump:         logic.PowerOn,
		Heater:       logic.PowerUnknown,
		Action:       logic.ActionNoChange,
		Rule:         logic.RuleDataMissing,
		Note:         "Missing temperature data (failure #1)",
		ReadFailures: 1,
	}

	if err := s.Record(ctx, first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, second); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Rule != logic.RuleDataMissing {
		t.Errorf("expected newest first, got %s", got[0].Rule)
	}
	if got[0].HotTubF.Valid || got[0].Delta.Valid {
		t.Error("missing readings should round-trip as missing")
	}
	if got[0].ReadFailures != 1 {
		t.Errorf("ReadFailures: got %d", got[0].ReadFailures)
	}
	if !got[1].Timestamp.Equal(first.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", got[1].Timestamp, first.Timestamp)
	}
	if got[1].HotTubF != logic.Fahrenheit(98.25) || got[1].AmbientF.Valid {
		t.Errorf("temperatures: tub=%v ambient=%v", got[1].HotTubF, got[1].AmbientF)
	}
	if got[1].Note != first.Note || got[1].Duration != "20 minutes" {
		t.Errorf("note/duration: %q %q", got[1].Note, got[1].Duration)
	}

	limited, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestRecentZero(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Recent(context.Background(), 0)
	if err != nil || got != nil {
		t.Errorf("Recent(0): %v %v", got, err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hottub.db")
	s, err := Open(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Record(context.Background(), logic.Record{Timestamp: time.Now(), Pump: logic.PowerOff, Heater: logic.PowerOff})
	s.Close()

	s, err = Open(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion {
		t.Errorf("version: got %d, want %d", version, SchemaVersion)
	}
	got, _ := s.Recent(context.Background(), 10)
	if len(got) != 1 {
		t.Errorf("expected data to survive reopen, got %d rows", len(got))
	}
}

func TestMigrateRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open(DriverSQLite, filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := Migrate(context.Background(), db, "oracle"); err == nil {
		t.Error("expected error")
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	if err := s.Record(context.Background(), logic.Record{}); err == nil {
		t.Error("expected error from nil store")
	}
	if _, err := New(nil, DriverSQLite); err == nil {
		t.Error("expected error for nil db")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil store: %v", err)
	}
}
