package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// HandleListWorkflows returns summaries of all stored workflows.
func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.repo.List(r.Context())
	if err != nil {
		slog.Error("Failed to list workflows", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if summaries == nil {
		summaries = []WorkflowSummary{}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(summaries)
}

// HandleGetWorkflow loads a workflow definition from the database and
// returns it as JSON.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Getting workflow", "id", id)

	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(wf)
}

// HandleSaveWorkflow validates and stores a graph coming from the editor
// or the AI planner. Every edge must pass type validation; writes are
// debounced so continuous editing produces at most one save per window.
func (s *Service) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Saving workflow", "id", id)

	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	var req SaveWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf := &Workflow{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Viewport:    req.Viewport,
	}

	if violations := ValidateGraph(wf); len(violations) > 0 {
		writeError(w, http.StatusUnprocessableEntity, violations[0].Error())
		return
	}

	s.saver.Schedule(wf, func(latest *Workflow) {
		// Detached from the request: the HTTP context is gone by flush time.
		if err := s.repo.Save(context.Background(), latest); err != nil {
			slog.Error("Failed to save workflow", "id", latest.ID, "error", err)
		}
	})

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// HandleExecuteWorkflow starts a run of the stored graph and returns the
// run snapshot: completed, or waiting if a gate suspended.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Executing workflow", "id", id)

	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get workflow for execution", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	st, err := s.engine.Execute(r.Context(), wf)
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			writeError(w, http.StatusUnprocessableEntity, runErr.Reason)
			return
		}
		slog.Error("Workflow execution failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(st.View())
}

// HandleGetRun returns the snapshot of a run, including paused gate
// state, so the canvas can paint node status.
func (s *Service) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	st, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(st.View())
}

// HandleResolveGate applies an approve/reject decision to a waiting gate
// and resumes the run.
func (s *Service) HandleResolveGate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID, nodeID := vars["id"], vars["nodeId"]

	var req ResolveGateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Decision != DecisionApprove && req.Decision != DecisionReject {
		writeError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}

	st, err := s.engine.ResolveGate(r.Context(), runID, nodeID, req.Decision)
	if err != nil {
		var gateErr *GateError
		if errors.As(err, &gateErr) {
			writeError(w, http.StatusConflict, gateErr.Error())
			return
		}
		slog.Error("Failed to resolve gate", "runId", runID, "nodeId", nodeID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(st.View())
}

// HandleCancelRun stops further dispatch for a run.
func (s *Service) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	st, err := s.engine.Cancel(r.Context(), id)
	if err != nil {
		slog.Error("Failed to cancel run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(st.View())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
