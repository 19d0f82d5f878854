package session

import (
	"os"
	"strings"
	"sync"
	"time"
)

const (
	defaultName         = "Unnamed Session"
	restoredName         = "Restored Session"
	defaultTerminalCols uint16 = 80
	defaultTerminalRows uint16 = 24
)

// Connection is the non-owning handle a Record holds to whichever external
// connection adapter currently has it attached. It is the only sanctioned
// path back into the transport layer (spec.md §9 replaces the C source's
// raw void* handle with this clearable, typed reference).
type Connection interface {
	// Write delivers live PTY output to the attached client.
	Write(p []byte) error
	// Close performs a normal-closure disconnect with a diagnostic reason,
	// used when this connection is displaced by a newer attach.
	Close(reason string)
}

// Record is the in-memory state for one session (spec.md §3, component B).
type Record struct {
	mu sync.Mutex

	id               string
	name             string
	command          string
	workingDirectory string

	createdAt    time.Time
	lastAccessed time.Time
	lastSaved    time.Time

	terminalCols uint16
	terminalRows uint16
	processPID   int

	buffer       *CircularBuffer
	isActive     bool
	needsSave    bool
	attachedConn Connection

	totalBytesWritten uint64
	saveCount         uint64
}

// NewOptions carries the optional, caller-supplied fields for Create.
type NewOptions struct {
	ID               string // empty => generated
	Name             string // empty => defaultName
	Command          string // empty => platform default shell
	WorkingDirectory string // empty => user home directory
	BufferCapacity   int    // <=0 => DefaultBufferCapacity
}

// NewRecord allocates a record per spec.md §4.B's create operation: it
// stamps created_at == last_accessed == now, allocates an empty buffer, and
// marks the record dirty so the first maintenance tick checkpoints it.
func NewRecord(opts NewOptions) *Record {
	id := opts.ID
	if id == "" {
		id = GenerateID()
	}
	name := sanitizeHeaderValue(opts.Name)
	if name == "" {
		name = defaultName
	}
	command := opts.Command
	if command == "" {
		command = defaultShell()
	}
	cwd := opts.WorkingDirectory
	if cwd == "" {
		cwd = defaultHome()
	}
	now := time.Now()
	return &Record{
		id:               id,
		name:             name,
		command:          command,
		workingDirectory: cwd,
		createdAt:        now,
		lastAccessed:     now,
		terminalCols:     defaultTerminalCols,
		terminalRows:     defaultTerminalRows,
		buffer:           NewCircularBuffer(opts.BufferCapacity),
		needsSave:        true,
	}
}

func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func defaultHome() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return "/"
}

// sanitizeHeaderValue strips characters the on-disk header format cannot
// represent (spec.md §4.C: values must not contain '=' or LF).
func sanitizeHeaderValue(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "=", "_")
	return s
}

// ID returns the record's immutable session identifier.
func (r *Record) ID() string { return r.id }

// Rename sets the session's display name. Rejects an empty new name.
func (r *Record) Rename(newName string) error {
	newName = sanitizeHeaderValue(strings.TrimSpace(newName))
	if newName == "" {
		return ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = newName
	r.needsSave = true
	return nil
}

// Attach sets conn as the sole attached connection. Fails with
// ErrAttachConflict if another connection already holds the record; the
// caller's policy (the connection adapter) is to detach-then-attach.
func (r *Record) Attach(conn Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachedConn != nil {
		return ErrAttachConflict
	}
	r.attachedConn = conn
	r.isActive = true
	r.lastAccessed = time.Now()
	r.needsSave = true
	return nil
}

// AttachForReplay atomically swaps in conn as the attached connection and
// takes a buffer snapshot in the same critical section, returning any
// connection it displaced. Doing the swap and the snapshot under one lock
// is what guarantees spec.md §8's replay-ordering property: any Ingest that
// loses the race to this call is serialized entirely before or entirely
// after it, so the new connection never sees a byte both in its snapshot
// and duplicated live.
func (r *Record) AttachForReplay(conn Connection) (snapshot []byte, evicted Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted = r.attachedConn
	r.attachedConn = conn
	r.isActive = true
	r.lastAccessed = time.Now()
	r.needsSave = true
	snapshot = r.buffer.Snapshot()
	return snapshot, evicted
}

// Detach clears the attached connection, but only if conn is still the one
// currently attached. A connection that lost a displacement race (another
// AttachForReplay already swapped it out for someone else's) has nothing to
// clear: its own later Detach call must not wipe out the connection that
// displaced it. Passing nil marks the record inactive only when no
// connection is attached (as right after AttachForReplay(nil)); it never
// clears a connection that is attached. Idempotent.
func (r *Record) Detach(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachedConn != conn {
		return
	}
	r.attachedConn = nil
	r.isActive = false
	r.lastAccessed = time.Now()
	r.needsSave = true
}

// Ingest appends data to the buffer and, if a connection is attached,
// forwards it live. Forwarding happens outside the record lock (transport
// writes are a suspension point, spec.md §5) but the connection reference
// is captured inside the same critical section as the buffer append, which
// is what keeps PTY output and live-forward ordered (spec.md §5's ordering
// guarantees).
func (r *Record) Ingest(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	r.buffer.Append(data)
	r.totalBytesWritten += uint64(len(data))
	r.lastAccessed = time.Now()
	r.needsSave = true
	conn := r.attachedConn
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Write(data)
	}
}

// Resize stores new terminal dimensions. Both must be positive.
func (r *Record) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return ErrInvalidDimensions
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminalCols = cols
	r.terminalRows = rows
	r.needsSave = true
	return nil
}

// SetProcessPID records the PID of the PTY process currently associated
// with this session (0 when none).
func (r *Record) SetProcessPID(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processPID = pid
	r.needsSave = true
}

// NeedsSaving reports whether the record should be checkpointed: either it
// has been mutated since the last save, or the save interval has elapsed.
func (r *Record) NeedsSaving(saveInterval time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.needsSave {
		return true
	}
	return time.Since(r.lastSaved) > saveInterval
}

// IsActive reports whether a connection is currently attached.
func (r *Record) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isActive
}

// LastAccessed returns the last time the record was touched by an attach,
// detach, or PTY write.
func (r *Record) LastAccessed() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAccessed
}

// Buffer returns the record's circular buffer. Callers must not mutate it
// directly outside of Record's own methods; it is exposed read-mostly for
// the persistence codec and for tests.
func (r *Record) Buffer() *CircularBuffer { return r.buffer }

// Meta is a point-in-time, lock-free copy of a Record's fields, used by the
// persistence codec, the stats handler, and tests.
type Meta struct {
	ID                string
	Name              string
	Command           string
	WorkingDirectory  string
	CreatedAt         time.Time
	LastAccessed      time.Time
	LastSaved         time.Time
	TerminalCols      uint16
	TerminalRows      uint16
	ProcessPID        int
	IsActive          bool
	NeedsSave         bool
	TotalBytesWritten uint64
	SaveCount         uint64
	BufferSize        int
}

// Describe takes a consistent snapshot of the record's metadata.
func (r *Record) Describe() Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Meta{
		ID:                r.id,
		Name:              r.name,
		Command:           r.command,
		WorkingDirectory:  r.workingDirectory,
		CreatedAt:         r.createdAt,
		LastAccessed:      r.lastAccessed,
		LastSaved:         r.lastSaved,
		TerminalCols:      r.terminalCols,
		TerminalRows:      r.terminalRows,
		ProcessPID:        r.processPID,
		IsActive:          r.isActive,
		NeedsSave:         r.needsSave,
		TotalBytesWritten: r.totalBytesWritten,
		SaveCount:         r.saveCount,
		BufferSize:        r.buffer.Len(),
	}
}

// markSaved is invoked by the codec after a successful checkpoint.
func (r *Record) markSaved(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSaved = at
	r.needsSave = false
	r.saveCount++
}

// restoredFields carries everything the codec parses out of a checkpoint
// file, handed to newRestoredRecord to build the in-memory Record.
type restoredFields struct {
	id               string
	name             string
	command          string
	workingDirectory string
	createdAt        time.Time
	lastAccessed     time.Time
	terminalCols     uint16
	terminalRows     uint16
	processPID       int
	totalBytesWritten uint64
	saveCount        uint64
	bufferCapacity   int
	bufferBytes      []byte
}

// newRestoredRecord builds a Record from a successfully decoded checkpoint.
// last_saved is stamped to now (the moment of the successful load), and
// save_count is left as read from disk — the codec increments it again the
// next time this record is actually re-saved, matching the round-trip
// property in spec.md §8 ("restored record has ... save_count+1" after the
// NEXT checkpoint).
func newRestoredRecord(f restoredFields) *Record {
	buf := NewCircularBuffer(f.bufferCapacity)
	buf.restoreLinear(f.bufferBytes)
	return &Record{
		id:                f.id,
		name:              f.name,
		command:           f.command,
		workingDirectory:  f.workingDirectory,
		createdAt:         f.createdAt,
		lastAccessed:      f.lastAccessed,
		lastSaved:         time.Now(),
		terminalCols:      f.terminalCols,
		terminalRows:      f.terminalRows,
		processPID:        f.processPID,
		buffer:            buf,
		totalBytesWritten: f.totalBytesWritten,
		saveCount:         f.saveCount,
	}
}
