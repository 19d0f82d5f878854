package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Ramachokkalingam/cmdr-code/src/lib"
	"github.com/Ramachokkalingam/cmdr-code/src/session"
	"github.com/Ramachokkalingam/cmdr-code/src/terminal"
)

// TerminalHandler serves the terminal page and upgrades WebSocket
// connections into the Connection Adapter (spec.md §4.F).
type TerminalHandler struct {
	*BaseHandler
	adapter  *terminal.Adapter
	upgrader websocket.Upgrader
}

// NewTerminalHandler wires a TerminalHandler against a shared Registry
// through a single Adapter instance.
func NewTerminalHandler(adapter *terminal.Adapter) *TerminalHandler {
	return &TerminalHandler{
		BaseHandler: NewBaseHandler(),
		adapter:     adapter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleTerminalPage serves the xterm.js client.
func (h *TerminalHandler) HandleTerminalPage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, terminal.TerminalHTML())
}

// HandleTerminalWS upgrades the request and hands it to the Connection
// Adapter. The session id comes from the client (spec.md §9, Open Question
// i); if omitted, this handler generates a fresh id with
// session.GenerateID before attaching.
func (h *TerminalHandler) HandleTerminalWS(c *gin.Context) {
	cols := uint16(80)
	rows := uint16(24)
	if v, err := strconv.ParseUint(c.Query("cols"), 10, 16); err == nil {
		cols = uint16(v)
	}
	if v, err := strconv.ParseUint(c.Query("rows"), 10, 16); err == nil {
		rows = uint16(v)
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = session.GenerateID()
	}

	workingDir := c.Query("cwd")
	if workingDir != "" {
		formatted, err := lib.FormatPath(workingDir)
		if err == nil {
			workingDir = formatted
		}
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("terminal: WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	if err := h.adapter.Serve(ws, terminal.AttachRequest{
		SessionID:  sessionID,
		WorkingDir: workingDir,
		Cols:       cols,
		Rows:       rows,
	}); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Debug("terminal: connection ended")
	}
}
