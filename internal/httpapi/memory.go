package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/memory"
)

type memoryAddRequest struct {
	SessionID string `json:"session_id"`
	Type      string `json:"memory_type"`
	Content   string `json:"content"`
}

// handleMemory serves POST /memory (record a fact), GET /memory?session_id=
// (list a session's facts) and DELETE /memory?session_id= (forget a session).
// Stored entries are embedded on write so later asks can score them against
// the query vector.
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	if s.memories == nil {
		s.writeError(w, http.StatusNotImplemented, "memory store disabled")
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleMemoryAdd(w, r)
	case http.MethodGet:
		s.handleMemoryList(w, r)
	case http.MethodDelete:
		s.handleMemoryDelete(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}
	n, err := s.memories.DeleteBySession(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("Memory delete failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "memory delete failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"deleted":    n,
	})
}

func (s *Server) handleMemoryAdd(w http.ResponseWriter, r *http.Request) {
	var req memoryAddRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Content == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "session_id and content are required")
		return
	}
	if !memory.ValidType(memory.Type(req.Type)) {
		s.writeError(w, http.StatusUnprocessableEntity,
			"memory_type must be one of practice, preference, achievement, context")
		return
	}

	// An embedding failure here is non-fatal: the entry still stores and
	// lists, it just cannot be scored for injection until re-embedded.
	var vec []float32
	if s.embedder != nil {
		v, err := s.embedder.EmbedOne(r.Context(), req.Content)
		if err != nil {
			s.logger.Warn("Memory embedding failed, storing without vector", zap.Error(err))
		} else {
			vec = v
		}
	}

	entry := memory.Entry{
		SessionID: req.SessionID,
		Type:      memory.Type(req.Type),
		Content:   req.Content,
		Embedding: vec,
	}
	if err := s.memories.Add(r.Context(), entry); err != nil {
		s.logger.Error("Memory write failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "memory write failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"stored":   true,
		"embedded": vec != nil,
	})
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}
	entries, err := s.memories.List(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("Memory list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "memory read failed")
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"memories":   entries,
	})
}
