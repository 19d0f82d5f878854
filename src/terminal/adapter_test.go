package terminal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ramachokkalingam/cmdr-code/src/session"
)

func newTestAdapter(t *testing.T) (*Adapter, *session.Registry) {
	t.Helper()
	reg, err := session.NewRegistry(session.RegistryConfig{
		StateDir:       t.TempDir(),
		BufferCapacity: session.DefaultBufferCapacity,
	})
	if err != nil {
		t.Fatalf("NewRegistry() = %v", err)
	}
	return NewAdapter(AdapterConfig{Registry: reg, DefaultShell: "cat", ReplayYield: time.Millisecond}), reg
}

func TestAdapterReplayChunksAt8KiB(t *testing.T) {
	sizes := chunkSizes(20000, 8192)
	if len(sizes) != 3 || sizes[0] != 8192 || sizes[1] != 8192 || sizes[2] != 3616 {
		t.Fatalf("chunkSizes = %v, want [8192 8192 3616]", sizes)
	}
}

// chunkSizes mirrors Adapter.replay's splitting logic so it can be asserted
// against without a live transport.
func chunkSizes(total, chunk int) []int {
	var out []int
	for total > 0 {
		n := chunk
		if n > total {
			n = total
		}
		out = append(out, n)
		total -= n
	}
	return out
}

func dialTerminal(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return ws
}

func TestAdapterAttachReplayAndLiveForward(t *testing.T) {
	a, _ := newTestAdapter(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		_ = a.Serve(ws, AttachRequest{SessionID: "echo-session", Cols: 80, Rows: 24})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws := dialTerminal(t, url)
	defer ws.Close()

	frame := append([]byte{tagInput}, []byte("hello\n")...)
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write input: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []byte
	for !strings.Contains(string(got), "hello") {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		if len(data) == 0 || data[0] != tagOutput {
			continue
		}
		got = append(got, data[1:]...)
	}
}

func TestAdapterDisplacementEvictsFirstConnection(t *testing.T) {
	a, _ := newTestAdapter(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = a.Serve(ws, AttachRequest{SessionID: "shared-session", Cols: 80, Rows: 24})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	first := dialTerminal(t, url)
	defer first.Close()

	// Give the first connection a moment to finish attaching before the
	// second one displaces it.
	time.Sleep(50 * time.Millisecond)

	second := dialTerminal(t, url)
	defer second.Close()

	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	// The first connection was already sent its window title (and possibly
	// shell output) before being displaced; read past those frames.
	var err error
	for err == nil {
		_, _, err = first.ReadMessage()
	}
	if err == nil {
		t.Fatal("expected the first connection to observe a close after displacement")
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("close error = %v, want a normal closure", err)
	}

	// Give the first connection's server-side Serve goroutine time to
	// observe the closed transport and run its own deferred Detach. It must
	// not clear the second connection's attachment (a stale, identity-unaware
	// Detach would silently stop the second connection's live output here).
	time.Sleep(100 * time.Millisecond)

	frame := append([]byte{tagInput}, []byte("still-here\n")...)
	if err := second.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write input on second connection: %v", err)
	}

	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []byte
	for !strings.Contains(string(got), "still-here") {
		_, data, err := second.ReadMessage()
		if err != nil {
			t.Fatalf("second connection stopped receiving live output after displacement: %v", err)
		}
		if len(data) == 0 || data[0] != tagOutput {
			continue
		}
		got = append(got, data[1:]...)
	}
}

func TestAdapterCloseKillsRunningPTYAndIsIdempotent(t *testing.T) {
	a, _ := newTestAdapter(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = a.Serve(ws, AttachRequest{SessionID: "to-be-closed", Cols: 80, Rows: 24})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws := dialTerminal(t, url)
	defer ws.Close()

	// Give Serve a moment to start the PTY before we reach in and close it.
	time.Sleep(50 * time.Millisecond)

	a.ptys.Lock()
	pt, ok := a.byID["to-be-closed"]
	a.ptys.Unlock()
	if !ok {
		t.Fatal("expected a running PTY to be tracked for this session")
	}

	a.Close("to-be-closed")

	select {
	case <-pt.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("PTY was not terminated by Adapter.Close")
	}

	a.ptys.Lock()
	_, stillTracked := a.byID["to-be-closed"]
	a.ptys.Unlock()
	if stillTracked {
		t.Fatal("Adapter.Close should drop the session from its tracking map")
	}

	// Closing again, or closing a session that was never started, must not panic.
	a.Close("to-be-closed")
	a.Close("never-started")
}

func TestAdapterRejectsInvalidSessionID(t *testing.T) {
	a, _ := newTestAdapter(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = a.Serve(ws, AttachRequest{SessionID: "has a space"})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws := dialTerminal(t, url)
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseProtocolError) {
		t.Fatalf("close error = %v, want a protocol error", err)
	}
}
