package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// CSVHeader is the column layout of the decision log.
var CSVHeader = []string{"Timestamp", "HotTub_F", "Solar_F", "Delta", "Pump", "Heater", "Action", "Rule", "Note", "Duration", "Ambient_F"}

// CSVSink appends one row per decision to a file.
// The file is opened O_APPEND and flushed per row so it can be tailed while written.
type CSVSink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVSink opens (or creates) the file and writes the header if it is empty.
func NewCSVSink(path string) (*CSVSink, error) {
	f, w, err := openAppend(path, CSVHeader)
	if err != nil {
		return nil, err
	}
	return &CSVSink{f: f, w: w}, nil
}

func openAppend(path string, header []string) (*os.File, *csv.Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		w.Write(header)
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("write header: %w", err)
		}
	}
	return f, w, nil
}

// Record appends a row.
func (s *CSVSink) Record(ctx context.Context, rec logic.Record) error {
	row := []string{
		rec.Timestamp.Format("2006-01-02 15:04:05"),
		tempString(rec.HotTubF),
		tempString(rec.SolarF),
		tempString(rec.Delta),
		stateString(rec.Pump),
		stateString(rec.Heater),
		string(rec.Action),
		string(rec.Rule),
		rec.Note,
		rec.Duration,
		tempString(rec.AmbientF),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("csv sink closed")
	}
	s.w.Write(row)
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	s.w.Flush()
	err := s.f.Close()
	s.w = nil
	return err
}

// CalibrationHeader is the column layout of the calibration log.
var CalibrationHeader = []string{"Timestamp", "HotTub_F", "Solar_F", "Delta", "Pump", "Heater", "LocalTemp_F"}

// CalibrationSink samples sensor offsets while the pump circulates without the
// heater: at most one row per interval, only when pump is ON and heater is OFF.
type CalibrationSink struct {
	mu       sync.Mutex
	f        *os.File
	w        *csv.Writer
	interval time.Duration
	last     time.Time
}

// NewCalibrationSink opens the calibration log.
func NewCalibrationSink(path string, interval time.Duration) (*CalibrationSink, error) {
	f, w, err := openAppend(path, CalibrationHeader)
	if err != nil {
		return nil, err
	}
	return &CalibrationSink{f: f, w: w, interval: interval}, nil
}

// Record writes a calibration row when conditions are met.
func (s *CalibrationSink) Record(ctx context.Context, rec logic.Record) error {
	if rec.Pump != logic.PowerOn || rec.Heater != logic.PowerOff {
		return nil
	}
	if !rec.HotTubF.Valid || !rec.SolarF.Valid {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("calibration sink closed")
	}
	if !s.last.IsZero() && rec.Timestamp.Sub(s.last) < s.interval {
		return nil
	}

	local := "N/A"
	if rec.AmbientF.Valid {
		local = tempString(rec.AmbientF)
	}
	s.w.Write([]string{
		rec.Timestamp.Format("2006-01-02 15:04:05"),
		tempString(rec.HotTubF),
		tempString(rec.SolarF),
		tempString(logic.Fahrenheit(rec.SolarF.F - rec.HotTubF.F)),
		stateString(rec.Pump),
		stateString(rec.Heater),
		local,
	})
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	s.last = rec.Timestamp
	return nil
}

// Close flushes and closes the file.
func (s *CalibrationSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	s.w.Flush()
	err := s.f.Close()
	s.w = nil
	return err
}
