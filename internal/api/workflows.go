package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// WorkflowResponse is a stored workflow with its derived diagnostics.
type WorkflowResponse struct {
	*core.WorkflowRecord
	Dangling    map[core.StepID][]core.Reference `json:"dangling"`
	MarkerDrift map[core.StepID][]core.Reference `json:"marker_drift"`
	Running     bool                             `json:"running"`
}

// UpdateWorkflowRequest renames or redescribes a workflow.
type UpdateWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StepTextRequest carries the text of a new or edited step.
type StepTextRequest struct {
	Text string `json:"text"`
}

// AddStepResponse returns the new step with the updated workflow.
type AddStepResponse struct {
	Step     *core.Step           `json:"step"`
	Workflow *core.WorkflowRecord `json:"workflow"`
}

// ReorderRequest is the complete new step order.
type ReorderRequest struct {
	Order []core.StepID `json:"order"`
}

func workflowID(r *http.Request) core.WorkflowID {
	return core.WorkflowID(chi.URLParam(r, "workflowID"))
}

func stepID(r *http.Request) core.StepID {
	return core.StepID(chi.URLParam(r, "stepID"))
}

// handleListWorkflows returns workflow summaries.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.workflows.List(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleCreateWorkflow creates a workflow, optionally with steps.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var rec core.WorkflowRecord
	if err := decodeJSON(r, &rec, false); err != nil {
		s.respondDomainError(w, err)
		return
	}
	rec.ID = ""
	wf, err := s.workflows.Create(r.Context(), &rec)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, wf.Record())
}

// handleGetWorkflow returns a workflow with dangling references and
// marker drift.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := workflowID(r)
	insp, err := s.workflows.Inspect(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, WorkflowResponse{
		WorkflowRecord: insp.Workflow.Record(),
		Dangling:       insp.Dangling,
		MarkerDrift:    insp.MarkerDrift,
		Running:        s.executor != nil && s.executor.IsRunning(id),
	})
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req UpdateWorkflowRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondDomainError(w, err)
		return
	}
	wf, err := s.workflows.Rename(r.Context(), workflowID(r), req.Name, req.Description)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf.Record())
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.workflows.Delete(r.Context(), workflowID(r)); err != nil {
		s.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.Clear(r.Context(), workflowID(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf.Record())
}

func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	var req StepTextRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondDomainError(w, err)
		return
	}
	step, wf, err := s.workflows.AddStep(r.Context(), workflowID(r), req.Text)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, AddStepResponse{Step: step, Workflow: wf.Record()})
}

func (s *Server) handleEditStep(w http.ResponseWriter, r *http.Request) {
	var req StepTextRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondDomainError(w, err)
		return
	}
	wf, err := s.workflows.EditStep(r.Context(), workflowID(r), stepID(r), req.Text)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf.Record())
}

func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.DeleteStep(r.Context(), workflowID(r), stepID(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf.Record())
}

func (s *Server) handleReorderSteps(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondDomainError(w, err)
		return
	}
	wf, err := s.workflows.ReorderSteps(r.Context(), workflowID(r), req.Order)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf.Record())
}

// handleAddReference appends an output or file reference; the body is a
// core.Reference ({kind, targetId}).
func (s *Server) handleAddReference(w http.ResponseWriter, r *http.Request) {
	var ref core.Reference
	if err := decodeJSON(r, &ref, false); err != nil {
		s.respondDomainError(w, err)
		return
	}
	wf, err := s.workflows.AddReference(r.Context(), workflowID(r), stepID(r), ref)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf.Record())
}

// handleGetGraph returns the reference graph as JSON, or as Graphviz DOT
// with ?format=dot.
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.workflows.Graph(r.Context(), workflowID(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "dot" {
		w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(g.DOT()))
		return
	}
	respondJSON(w, http.StatusOK, g)
}
