package gateway

import (
	"errors"
	"net/http"

	"github.com/locushq/locus/internal/contextwindow"
	"github.com/locushq/locus/internal/workspace"
	"github.com/locushq/locus/pkg/models"
)

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Workspaces == nil {
		writeError(w, http.StatusServiceUnavailable, "workspaces are not enabled")
		return
	}
	list := s.cfg.Workspaces.List()
	infos := make([]models.WorkspaceInfo, 0, len(list))
	for _, ws := range list {
		infos = append(infos, ws.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": infos})
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceByID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Info())
}

// handleWorkspaceSession reports the workspace conversation's size against
// the selected model's context window.
func (s *Server) handleWorkspaceSession(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceByID(w, r)
	if !ok {
		return
	}
	sel := ws.Agent()
	info := contextwindow.SessionInfo(sel.Model, sel.SystemPrompt, ws.Messages())
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) workspaceByID(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	if s.cfg.Workspaces == nil {
		writeError(w, http.StatusServiceUnavailable, "workspaces are not enabled")
		return nil, false
	}
	ws, err := s.cfg.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workspace not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return ws, true
}
