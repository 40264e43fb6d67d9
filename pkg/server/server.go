// Package server exposes one conversation engine over a JSON HTTP API
// plus a websocket stream of thread updates.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/storyloom/storyloom/pkg/convo"
	"github.com/storyloom/storyloom/pkg/phase"
)

// Server serves the engine API.
type Server struct {
	engine *convo.Engine
	phases *phase.Tracker
	srv    *http.Server
}

// New creates a new Server.
func New(engine *convo.Engine, phases *phase.Tracker) *Server {
	return &Server{
		engine: engine,
		phases: phases,
	}
}

// Handler builds the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/thread", s.handleInitialize)
	mux.HandleFunc("GET /api/thread", s.handleGetThread)
	mux.HandleFunc("POST /api/thread/clear", s.handleClear)

	mux.HandleFunc("GET /api/thread/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/thread/messages", s.handleSendMessage)

	mux.HandleFunc("GET /api/thread/branches", s.handleListBranches)
	mux.HandleFunc("POST /api/thread/branches", s.handleCreateBranch)
	mux.HandleFunc("POST /api/thread/branches/{id}/switch", s.handleSwitchBranch)
	mux.HandleFunc("POST /api/thread/branches/{id}/rename", s.handleRenameBranch)
	mux.HandleFunc("DELETE /api/thread/branches/{id}", s.handleDeleteBranch)

	mux.HandleFunc("POST /api/thread/back", s.handleGoBack)
	mux.HandleFunc("POST /api/thread/forward", s.handleGoForward)
	mux.HandleFunc("GET /api/thread/navigation", s.handleNavigation)

	mux.HandleFunc("GET /api/thread/stats", s.handleStats)
	mux.HandleFunc("GET /api/thread/export", s.handleExport)
	mux.HandleFunc("POST /api/thread/import", s.handleImport)

	mux.HandleFunc("GET /api/phase", s.handleGetPhase)
	mux.HandleFunc("POST /api/phase/advance", s.handleAdvancePhase)
	mux.HandleFunc("POST /api/phase/retreat", s.handleRetreatPhase)

	mux.HandleFunc("GET /api/thread/watch", s.handleWatch)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server and blocks.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	slog.Info("starting server", "addr", addr)
	return s.srv.ListenAndServe()
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, convo.ErrBranchNotFound), errors.Is(err, convo.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, convo.ErrCannotDeleteMainBranch),
		errors.Is(err, convo.ErrNotInitialized),
		errors.Is(err, convo.ErrNoActiveThread):
		status = http.StatusConflict
	case errors.Is(err, convo.ErrInvalidConversationData),
		errors.Is(err, errBadRequest),
		errors.Is(err, phase.ErrFinalPhase),
		errors.Is(err, phase.ErrInitialPhase):
		status = http.StatusBadRequest
	}
	slog.Error("api error", "status", status, "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
