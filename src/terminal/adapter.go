// Package terminal implements the Connection Adapter (spec.md §4.F): the
// glue between one client WebSocket connection and one session.Record,
// plus the PTY external collaborator it drives.
package terminal

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Ramachokkalingam/cmdr-code/src/session"
)

// Client-to-server and server-to-client message tags (spec.md §6,
// "Transport-facing contract"). Input and output tags intentionally share
// the same byte value — they travel in opposite directions on the same
// socket and are never ambiguous.
const (
	tagInput          byte = '0' // C -> S: bytes to feed to the PTY
	tagResizeTerminal byte = '1' // C -> S: JSON {"columns","rows"}
	tagPause          byte = '2' // C -> S: stop live output until RESUME
	tagResume         byte = '3' // C -> S: resume live output
	tagJSONControl    byte = '{' // C -> S: JSON control object

	tagOutput         byte = '0' // S -> C: PTY / replay bytes
	tagSetWindowTitle byte = '1' // S -> C: UTF-8 title
	tagSetPreferences byte = '2' // S -> C: JSON preferences
)

type resizePayload struct {
	Columns uint16 `json:"columns"`
	Rows    uint16 `json:"rows"`
}

type controlPayload struct {
	Action string `json:"action"`
	Name   string `json:"name"`
}

// AdapterConfig carries the slice of the configuration surface (spec.md §6)
// that the Connection Adapter itself needs.
type AdapterConfig struct {
	Registry        *session.Registry
	ReplayChunkSize int
	ReplayYield     time.Duration
	DefaultShell    string
}

// Adapter drives client connections against a shared Registry. One Adapter
// serves arbitrarily many concurrent connections; it is safe for concurrent
// use.
type Adapter struct {
	cfg  AdapterConfig
	ptys sync.Mutex
	byID map[string]*PTY
}

// NewAdapter builds an Adapter, applying spec.md §6's defaults for any
// zero-valued field.
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.ReplayChunkSize <= 0 {
		cfg.ReplayChunkSize = 8192
	}
	if cfg.ReplayYield <= 0 {
		cfg.ReplayYield = time.Millisecond
	}
	return &Adapter{
		cfg:  cfg,
		byID: make(map[string]*PTY),
	}
}

// AttachRequest describes one incoming client connection.
type AttachRequest struct {
	SessionID  string
	WorkingDir string
	Cols, Rows uint16
}

// Serve drives ws end-to-end against the session identified by req
// (spec.md §4.F, steps 1-7). It blocks until the client disconnects or a
// hard failure occurs. Once the connection has been attached, the record is
// always left detached and checkpointed on return; an invalid id, a failed
// lookup or a failed PTY start returns before attaching and does not
// checkpoint.
func (a *Adapter) Serve(ws *websocket.Conn, req AttachRequest) error {
	if !session.ValidateID(req.SessionID) {
		closeWithReason(ws, websocket.CloseProtocolError, "invalid session id")
		return session.ErrInvalidID
	}

	rec, created, err := a.cfg.Registry.AttachOrCreate(req.SessionID, req.WorkingDir)
	if err != nil {
		closeWithReason(ws, websocket.CloseProtocolError, err.Error())
		return err
	}

	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	pt, startedFresh, err := a.getOrStartPTY(rec, cols, rows)
	if err != nil {
		closeWithReason(ws, websocket.CloseInternalServerErr, fmt.Sprintf("could not materialize session: %v", err))
		return err
	}
	if startedFresh {
		rec.SetProcessPID(pt.PID())
		go a.pumpPTYOutput(rec, pt)
	} else if !created && cols > 0 && rows > 0 {
		_ = pt.Resize(cols, rows)
		_ = rec.Resize(cols, rows)
	}

	conn := newWebSocketConn(ws)
	snapshot, evicted := rec.AttachForReplay(conn)
	if evicted != nil {
		evicted.Close("displaced by a new connection")
	}

	if err := a.replay(conn, snapshot); err != nil {
		rec.Detach(conn)
		_ = a.cfg.Registry.Checkpoint(req.SessionID)
		return err
	}

	if meta := rec.Describe(); meta.Name != "" {
		_ = conn.writeTagged(tagSetWindowTitle, []byte(meta.Name))
	}

	a.readLoop(ws, rec, pt, conn)

	rec.Detach(conn)
	if err := a.cfg.Registry.Checkpoint(req.SessionID); err != nil {
		logrus.WithError(err).WithField("session_id", req.SessionID).Warn("terminal: checkpoint on disconnect failed")
	}
	return nil
}

// getOrStartPTY returns the running PTY for a session, starting one if none
// is running yet (a brand-new session) or the previous shell process has
// since exited.
func (a *Adapter) getOrStartPTY(rec *session.Record, cols, rows uint16) (*PTY, bool, error) {
	a.ptys.Lock()
	defer a.ptys.Unlock()

	id := rec.ID()
	if pt, ok := a.byID[id]; ok {
		select {
		case <-pt.Done():
			delete(a.byID, id)
		default:
			return pt, false, nil
		}
	}

	meta := rec.Describe()
	command := meta.Command
	if command == "" {
		command = a.cfg.DefaultShell
	}
	pt, err := StartPTY(command, meta.WorkingDirectory, cols, rows)
	if err != nil {
		return nil, false, err
	}
	a.byID[id] = pt
	return pt, true, nil
}

// Close stops the PTY process associated with id, if one is running, and
// drops it from the adapter's tracking. The Registry calls this through its
// close hook (session.Registry.SetCloseHook, wired in main.go) once a
// session has been destroyed or evicted, so a shell process never keeps
// running against a record the registry no longer knows about. A no-op if
// no PTY is running for id.
func (a *Adapter) Close(id string) {
	a.ptys.Lock()
	pt, ok := a.byID[id]
	if ok {
		delete(a.byID, id)
	}
	a.ptys.Unlock()
	if ok {
		_ = pt.Close()
	}
}

// pumpPTYOutput feeds PTY output into the record for the entire lifetime of
// the shell process, independent of any single client's connection. This is
// what makes a background process (e.g. a dev server) keep producing
// buffered output across disconnects (spec.md §3, component B).
func (a *Adapter) pumpPTYOutput(rec *session.Record, pt *PTY) {
	buf := make([]byte, 4096)
	for {
		n, err := pt.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			rec.Ingest(data)
		}
		if err != nil {
			break
		}
	}

	a.ptys.Lock()
	if a.byID[rec.ID()] == pt {
		delete(a.byID, rec.ID())
	}
	a.ptys.Unlock()

	if _, evicted := rec.AttachForReplay(nil); evicted != nil {
		evicted.Close("shell process exited")
	}
	rec.Detach(nil)
}

// replay writes a buffer snapshot to conn as a sequence of OUTPUT frames of
// at most cfg.ReplayChunkSize bytes, yielding between frames so the
// transport can drain (spec.md §4.F step 5). conn.mu is held for the whole
// replay, so live output forwarded through conn.Write in the meantime waits
// until the snapshot has been delivered in full.
func (a *Adapter) replay(conn *webSocketConn, snapshot []byte) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	chunk := a.cfg.ReplayChunkSize
	for len(snapshot) > 0 {
		n := chunk
		if n > len(snapshot) {
			n = len(snapshot)
		}
		frame := make([]byte, n+1)
		frame[0] = tagOutput
		copy(frame[1:], snapshot[:n])
		if err := conn.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return err
		}
		snapshot = snapshot[n:]
		if len(snapshot) > 0 {
			time.Sleep(a.cfg.ReplayYield)
		}
	}
	return nil
}

// readLoop consumes client frames until the connection closes. It never
// returns an error: a closed transport is simply the end of the loop,
// matching spec.md §5's cancellation model (disconnects are a closure
// event, not a propagated error).
func (a *Adapter) readLoop(ws *websocket.Conn, rec *session.Record, pt *PTY, conn *webSocketConn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if (mt != websocket.BinaryMessage && mt != websocket.TextMessage) || len(data) == 0 {
			continue
		}

		tag, payload := data[0], data[1:]
		switch tag {
		case tagInput:
			if _, err := pt.Write(payload); err != nil {
				logrus.WithError(err).WithField("session_id", rec.ID()).Warn("terminal: write to PTY failed")
			}
		case tagResizeTerminal:
			var resize resizePayload
			if err := json.Unmarshal(payload, &resize); err != nil || resize.Columns == 0 || resize.Rows == 0 {
				continue
			}
			if err := pt.Resize(resize.Columns, resize.Rows); err == nil {
				_ = rec.Resize(resize.Columns, resize.Rows)
			}
		case tagPause:
			conn.setPaused(true)
		case tagResume:
			conn.setPaused(false)
		case tagJSONControl:
			a.handleControl(rec, payload)
		default:
			logrus.WithField("tag", tag).Debug("terminal: ignoring unrecognized client frame")
		}
	}
}

// handleControl applies a JSON control frame. The only control action
// carried today is a rename, which lets a client label a session
// (spec.md §4.B Record.rename, surfaced here as the one mutation the wire
// protocol's control channel is documented to carry).
func (a *Adapter) handleControl(rec *session.Record, payload []byte) {
	var ctl controlPayload
	if err := json.Unmarshal(payload, &ctl); err != nil {
		logrus.WithError(err).Debug("terminal: malformed JSON control frame")
		return
	}
	switch ctl.Action {
	case "rename":
		if err := rec.Rename(ctl.Name); err != nil {
			logrus.WithError(err).WithField("session_id", rec.ID()).Debug("terminal: rename rejected")
		}
	default:
		logrus.WithField("action", ctl.Action).Debug("terminal: unrecognized control action")
	}
}

func closeWithReason(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = ws.Close()
}

// webSocketConn adapts a *websocket.Conn to session.Connection. gorilla's
// websocket.Conn forbids concurrent writers, so every write is serialized
// through mu — both the replay path and the later live-forward path
// (session.Record.Ingest) share this connection instance.
type webSocketConn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	paused bool
}

func newWebSocketConn(ws *websocket.Conn) *webSocketConn {
	return &webSocketConn{ws: ws}
}

// Write implements session.Connection. It is a no-op while paused so that a
// client that asked for PAUSE doesn't receive interleaved output — the
// bytes are still appended to the buffer by the caller (session.Record)
// before Write is ever invoked, so nothing is lost.
func (c *webSocketConn) Write(p []byte) error {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if paused {
		return nil
	}
	return c.writeTagged(tagOutput, p)
}

func (c *webSocketConn) writeTagged(tag byte, payload []byte) error {
	frame := make([]byte, len(payload)+1)
	frame[0] = tag
	copy(frame[1:], payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *webSocketConn) setPaused(p bool) {
	c.mu.Lock()
	c.paused = p
	c.mu.Unlock()
}

// Close implements session.Connection: a normal closure carrying reason,
// used for both the last-writer-wins displacement policy and destroy/evict
// paths.
func (c *webSocketConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	_ = c.ws.Close()
}
