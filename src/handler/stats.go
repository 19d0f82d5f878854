package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ramachokkalingam/cmdr-code/src/session"
)

// SessionsHandler exposes introspection over the Registry, grounded on
// original_source's session_registry_get_stats_json and
// persistent_session_get_info_json (see SPEC_FULL.md §3), plus
// HandleDestroy, which removes a session.
type SessionsHandler struct {
	*BaseHandler
	registry *session.Registry
}

// NewSessionsHandler wires a SessionsHandler against the shared Registry.
func NewSessionsHandler(registry *session.Registry) *SessionsHandler {
	return &SessionsHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
	}
}

// sessionSummary is the client-facing projection of session.Meta — it
// never exposes the buffer contents, only metadata.
type sessionSummary struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Command           string `json:"command"`
	WorkingDirectory  string `json:"working_directory"`
	CreatedAt         string `json:"created_at"`
	LastAccessed      string `json:"last_accessed"`
	TerminalCols      uint16 `json:"terminal_cols"`
	TerminalRows      uint16 `json:"terminal_rows"`
	ProcessPID        int    `json:"process_pid"`
	IsActive          bool   `json:"is_active"`
	NeedsSave         bool   `json:"needs_save"`
	TotalBytesWritten uint64 `json:"total_bytes_written"`
	SaveCount         uint64 `json:"save_count"`
	BufferSize        int    `json:"buffer_size"`
}

func toSummary(meta session.Meta) sessionSummary {
	return sessionSummary{
		ID:                meta.ID,
		Name:              meta.Name,
		Command:           meta.Command,
		WorkingDirectory:  meta.WorkingDirectory,
		CreatedAt:         meta.CreatedAt.Format(rfc3339Milli),
		LastAccessed:      meta.LastAccessed.Format(rfc3339Milli),
		TerminalCols:      meta.TerminalCols,
		TerminalRows:      meta.TerminalRows,
		ProcessPID:        meta.ProcessPID,
		IsActive:          meta.IsActive,
		NeedsSave:         meta.NeedsSave,
		TotalBytesWritten: meta.TotalBytesWritten,
		SaveCount:         meta.SaveCount,
		BufferSize:        meta.BufferSize,
	}
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// listSessionsResponse is the GET /sessions payload: registry-wide stats
// plus a summary of every live session.
type listSessionsResponse struct {
	session.Stats
	Sessions []sessionSummary `json:"sessions"`
}

// HandleList returns registry-wide statistics and a summary of every
// currently known session.
func (h *SessionsHandler) HandleList(c *gin.Context) {
	stats := h.registry.Stats()
	resp := listSessionsResponse{Stats: stats, Sessions: []sessionSummary{}}
	for _, id := range h.registry.SessionIDs() {
		rec, ok := h.registry.Find(id)
		if !ok {
			continue
		}
		resp.Sessions = append(resp.Sessions, toSummary(rec.Describe()))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGet returns a single session's metadata.
func (h *SessionsHandler) HandleGet(c *gin.Context) {
	id, err := h.GetPathParam(c, "id")
	if err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	rec, ok := h.registry.Find(id)
	if !ok {
		h.SendError(c, http.StatusNotFound, session.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, toSummary(rec.Describe()))
}

// HandleDestroy removes a session: detaches any connection, deletes its
// on-disk checkpoint, and frees it from the registry (spec.md §4.D destroy).
func (h *SessionsHandler) HandleDestroy(c *gin.Context) {
	id, err := h.GetPathParam(c, "id")
	if err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.registry.Destroy(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.SendError(c, http.StatusNotFound, err)
			return
		}
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	h.SendSuccess(c, "session destroyed")
}
