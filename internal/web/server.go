// Package web provides the HTTP status page and operator API of the relay agent.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/sweeney/relay-agent/internal/forecast"
	"github.com/sweeney/relay-agent/internal/journal"
	"github.com/sweeney/relay-agent/internal/reconcile"
	"github.com/sweeney/relay-agent/internal/relay"
	"github.com/sweeney/relay-agent/internal/status"
)

// Controller is the operator surface of the agent.
type Controller interface {
	Toggle(ctx context.Context, id relay.ID, on bool) (reconcile.Result, error)
	SetPreferences(p string)
	RefreshForecast(ctx context.Context) (forecast.Forecast, error)
	Decisions(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Options configures a Server.
type Options struct {
	Addr        string
	Tracker     *status.Tracker
	Controller  Controller
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server serves the status page and operator API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
	logger     *slog.Logger
}

// New creates a Server that reads state from the tracker and sends operator
// actions to the controller.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{tracker: opts.Tracker, ctrl: opts.Controller, logger: opts.Logger}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/relays/{id:[0-9]+}", s.handleToggle).Methods(http.MethodPost)
	api.HandleFunc("/preferences", s.handlePreferences).Methods(http.MethodPut)
	api.HandleFunc("/forecast/refresh", s.handleForecastRefresh).Methods(http.MethodPost)
	api.HandleFunc("/decisions", s.handleDecisions).Methods(http.MethodGet)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
	})

	var h http.Handler = c.Handler(r)
	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
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

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.logger.Debug("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
	)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Error("render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

type toggleRequest struct {
	On *bool `json:"on"`
}

type relayResponse struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Failed    []int  `json:"failed,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id, err := relay.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.On == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"on": true|false}`})
		return
	}

	res, err := s.ctrl.Toggle(r.Context(), id, *req.On)
	switch {
	case errors.Is(err, relay.ErrUnknownRelay):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, reconcile.ErrRemoteWrite):
		resp := errorResponse{Error: err.Error(), Retryable: true}
		for fid := range res.Failed {
			resp.Failed = append(resp.Failed, int(fid))
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	name := relay.DefaultName(id)
	for _, st := range s.tracker.Snapshot().Relays {
		if st.ID == id {
			name = st.Name
		}
	}
	writeJSON(w, http.StatusOK, relayResponse{ID: int(id), Name: name, State: relay.StateString(*req.On)})
}

type preferencesRequest struct {
	Preferences *string `json:"preferences"`
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Preferences == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"preferences": "..."}`})
		return
	}
	s.ctrl.SetPreferences(*req.Preferences)
	writeJSON(w, http.StatusOK, map[string]string{"preferences": *req.Preferences})
}

func (s *Server) handleForecastRefresh(w http.ResponseWriter, r *http.Request) {
	f, err := s.ctrl.RefreshForecast(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Retryable: true})
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be 1-500"})
			return
		}
		limit = n
	}
	entries, err := s.ctrl.Decisions(r.Context(), limit)
	if err != nil {
		s.logger.Error("read decisions", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "journal unavailable"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": entries})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
