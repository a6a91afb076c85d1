package api

import (
	"net/http"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/service"
)

// StartRunRequest starts a run. ThreadID selects the conversation log the
// run appends to; Wait blocks until the run finishes.
type StartRunRequest struct {
	ThreadID string `json:"thread_id"`
	Wait     bool   `json:"wait"`
}

// handleStartRun snapshots the workflow and runs it in the background.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.respondDomainError(w, err)
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = service.DefaultThreadID
	}

	wf, err := s.workflows.Get(r.Context(), workflowID(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	log, err := s.threads.Log(r.Context(), req.ThreadID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	run, err := s.executor.Start(s.runCtx, wf, log)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	if !req.Wait {
		respondJSON(w, http.StatusAccepted, run.View())
		return
	}
	if err := run.Wait(r.Context()); err != nil {
		// The client went away or the request timed out; the run continues.
		respondJSON(w, http.StatusAccepted, run.View())
		return
	}
	respondJSON(w, http.StatusOK, run.View())
}

// handleGetCurrentRun returns the active run, or the most recent one.
func (s *Server) handleGetCurrentRun(w http.ResponseWriter, r *http.Request) {
	id := workflowID(r)
	run, ok := s.executor.Current(id)
	if !ok {
		s.respondDomainError(w, core.ErrNotFound("run", string(id)))
		return
	}
	respondJSON(w, http.StatusOK, run.View())
}

// handleCancelRun requests cancellation. The step in flight finishes; no
// further step starts.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := workflowID(r)
	if !s.executor.Cancel(id) {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: msgNoActiveRun, Code: "NO_ACTIVE_RUN"})
		return
	}
	run, _ := s.executor.Current(id)
	respondJSON(w, http.StatusAccepted, run.View())
}
