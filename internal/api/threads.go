package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// ThreadResponse is the message log of one thread.
type ThreadResponse struct {
	ThreadID string         `json:"thread_id"`
	Messages []core.Message `json:"messages"`
}

// SubmitRequest sends one prompt to a thread.
type SubmitRequest struct {
	Prompt string `json:"prompt"`
}

// SavePromptRequest stores a reusable prompt.
type SavePromptRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	msgs, err := s.threads.Messages(r.Context(), threadID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ThreadResponse{ThreadID: threadID, Messages: msgs})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := s.threads.Clear(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		s.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmit sends a single prompt and returns the assistant reply.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondDomainError(w, err)
		return
	}
	msg, err := s.threads.Submit(r.Context(), chi.URLParam(r, "threadID"), req.Prompt)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.threads.Prompts(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prompts)
}

func (s *Server) handleSavePrompt(w http.ResponseWriter, r *http.Request) {
	var req SavePromptRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondDomainError(w, err)
		return
	}
	p, err := s.threads.SavePrompt(r.Context(), req.Text)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}
