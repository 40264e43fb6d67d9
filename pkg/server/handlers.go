package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/storyloom/storyloom/pkg/convo"
)

// errBadRequest wraps body decode failures so errorResponse maps them to 400.
var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// --- Thread lifecycle ---

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic     string            `json:"topic"`
		ThreadKey string            `json:"threadKey"`
		Extra     map[string]string `json:"extra"`
	}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	if req.Topic == "" {
		req.Topic = s.phases.Topic()
	}
	thread, err := s.engine.Initialize(convo.Config{
		Topic:     req.Topic,
		ThreadKey: req.ThreadKey,
		Extra:     req.Extra,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, thread)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Export()
	if snap == nil {
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "no active thread"})
		return
	}
	s.jsonResponse(w, http.StatusOK, snap.Thread)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Clear(); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Messages ---

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.engine.CurrentBranchMessages()
	if msgs == nil {
		msgs = []convo.Message{}
	}
	s.jsonResponse(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string     `json:"content"`
		Role    convo.Role `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	if req.Role == "" {
		req.Role = convo.RoleUser
	}
	msg, err := s.engine.SendMessage(req.Content, req.Role)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, msg)
}

// --- Branches ---

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches := s.engine.AvailableBranches()
	if branches == nil {
		branches = []convo.Branch{}
	}
	s.jsonResponse(w, http.StatusOK, branches)
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name               string `json:"name"`
		ForkPointMessageID string `json:"forkPointMessageId"`
	}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	b, err := s.engine.CreateBranch(req.Name, req.ForkPointMessageID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, b)
}

func (s *Server) handleSwitchBranch(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SwitchToBranch(r.PathValue("id")); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.engine.Navigation())
}

func (s *Server) handleRenameBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := s.engine.RenameBranch(r.PathValue("id"), req.Name); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteBranch(r.PathValue("id")); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Navigation ---

func (s *Server) handleGoBack(w http.ResponseWriter, r *http.Request) {
	moved := s.engine.GoBack()
	s.jsonResponse(w, http.StatusOK, map[string]any{"moved": moved, "navigation": s.engine.Navigation()})
}

func (s *Server) handleGoForward(w http.ResponseWriter, r *http.Request) {
	moved := s.engine.GoForward()
	s.jsonResponse(w, http.StatusOK, map[string]any{"moved": moved, "navigation": s.engine.Navigation()})
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.engine.Navigation())
}

// --- Stats / export / import ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Export()
	if snap == nil {
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "no active thread"})
		return
	}
	s.jsonResponse(w, http.StatusOK, snap)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.errorResponse(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.engine.Import(data); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Phases ---

func (s *Server) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"phase": string(s.phases.Current())})
}

func (s *Server) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	p, err := s.phases.Advance()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"phase": string(p)})
}

func (s *Server) handleRetreatPhase(w http.ResponseWriter, r *http.Request) {
	p, err := s.phases.Retreat()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"phase": string(p)})
}
