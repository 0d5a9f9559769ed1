package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/storage"
)

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stores.Plans == nil {
		writeError(w, http.StatusServiceUnavailable, "plans are not enabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	plans, total, err := s.cfg.Stores.Plans.ListPlans(r.Context(), s.userID(r), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans, "total": total})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stores.Plans == nil {
		writeError(w, http.StatusServiceUnavailable, "plans are not enabled")
		return
	}
	plan, err := s.cfg.Stores.Plans.GetPlan(r.Context(), s.userID(r), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	steps, err := s.cfg.Stores.Plans.GetSteps(r.Context(), plan.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":    plan,
		"steps":   steps,
		"running": s.planRunning(plan.ID),
		"paused":  s.planPaused(plan.ID),
	})
}

// handleExecutePlan starts the plan in the background and returns 202.
// Progress is observable through GET /v1/plans/{id}.
func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PlanExec == nil {
		writeError(w, http.StatusServiceUnavailable, "plan execution is not enabled")
		return
	}
	planID := r.PathValue("id")
	userID := s.userID(r)
	if _, err := s.cfg.Stores.Plans.GetPlan(r.Context(), userID, planID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.cfg.PlanExec.IsRunning(planID) {
		writeError(w, http.StatusConflict, "plan is already running")
		return
	}

	go func() {
		ctx := agent.WithUserID(context.Background(), userID)
		if _, err := s.cfg.PlanExec.Execute(ctx, planID); err != nil {
			s.logger.Warn("plan execution failed", "plan_id", planID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": planID, "status": "started"})
}

func (s *Server) handlePausePlan(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PlanExec == nil {
		writeError(w, http.StatusServiceUnavailable, "plan execution is not enabled")
		return
	}
	planID := r.PathValue("id")
	if !s.cfg.PlanExec.Pause(planID) {
		writeError(w, http.StatusConflict, "plan is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": planID, "status": "pausing"})
}

func (s *Server) handleResumePlan(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PlanExec == nil {
		writeError(w, http.StatusServiceUnavailable, "plan execution is not enabled")
		return
	}
	planID := r.PathValue("id")
	userID := s.userID(r)

	go func() {
		ctx := agent.WithUserID(context.Background(), userID)
		if _, err := s.cfg.PlanExec.Resume(ctx, planID); err != nil {
			s.logger.Warn("plan resume failed", "plan_id", planID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": planID, "status": "resuming"})
}

func (s *Server) handleAbortPlan(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PlanExec == nil {
		writeError(w, http.StatusServiceUnavailable, "plan execution is not enabled")
		return
	}
	planID := r.PathValue("id")
	if !s.cfg.PlanExec.Abort(planID) {
		writeError(w, http.StatusConflict, "plan is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": planID, "status": "aborting"})
}

func (s *Server) planRunning(id string) bool {
	return s.cfg.PlanExec != nil && s.cfg.PlanExec.IsRunning(id)
}

func (s *Server) planPaused(id string) bool {
	return s.cfg.PlanExec != nil && s.cfg.PlanExec.IsPaused(id)
}
