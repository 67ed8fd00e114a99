// Package web provides an HTTP status server for the hot tub controller.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/hottub-controller/internal/logic"
	"github.com/sweeney/hottub-controller/internal/metrics"
	"github.com/sweeney/hottub-controller/internal/status"
)

// DefaultRecordLimit is the number of records returned by /records.json without ?limit.
const DefaultRecordLimit = 50

// maxRecordLimit caps ?limit.
const maxRecordLimit = 1000

// RecordLister returns recent decision records, newest first.
type RecordLister interface {
	Recent(ctx context.Context, n int) ([]logic.Record, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	records    RecordLister
}

// glogWriter adapts access log lines to glog.
type glogWriter struct{}

func (glogWriter) Write(p []byte) (int, error) {
	glog.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// New creates a Server that reads state from the given tracker.
// records and m may be nil; the corresponding routes then return 404.
func New(addr string, tracker *status.Tracker, records RecordLister, m *metrics.Metrics) *Server {
	s := &Server{tracker: tracker, records: records}

	r := mux.NewRouter()
	r.Handle("/", m.WrapHandler("/", http.HandlerFunc(s.handleIndex))).Methods(http.MethodGet)
	r.Handle("/index.html", m.WrapHandler("/index.html", http.HandlerFunc(s.handleIndex))).Methods(http.MethodGet)
	r.Handle("/index.json", m.WrapHandler("/index.json", http.HandlerFunc(s.handleJSON))).Methods(http.MethodGet)
	if records != nil {
		r.Handle("/records.json", m.WrapHandler("/records.json", http.HandlerFunc(s.handleRecords))).Methods(http.MethodGet)
	}
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handlers.LoggingHandler(glogWriter{}, r),
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		glog.Errorf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRecordLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRecordLimit)
	}

	recs, err := s.records.Recent(r.Context(), limit)
	if err != nil {
		glog.Errorf("web: list records: %v", err)
		http.Error(w, "failed to load records", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []logic.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Records []logic.Record `json:"records"`
	}{recs})
}
