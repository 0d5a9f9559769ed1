package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/locushq/locus/internal/approval"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

// handleApprovalDecision resolves a pending approval parked by a streaming
// turn. The decision unblocks the waiter inside the broker.
func (s *Server) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, "approvals are not enabled")
		return
	}
	id := r.PathValue("id")

	var decision models.ApprovalDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if decision.Decision != "approved" && decision.Decision != "rejected" {
		writeError(w, http.StatusBadRequest, `decision must be "approved" or "rejected"`)
		return
	}

	if err := s.cfg.Broker.Resolve(r.Context(), id, decision); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "approval not found")
		case errors.Is(err, approval.ErrAlreadyResolved):
			writeError(w, http.StatusConflict, "approval already resolved")
		case errors.Is(err, approval.ErrExpired):
			writeError(w, http.StatusGone, "approval expired")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": decision.Decision})
}
