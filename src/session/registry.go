package session

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// RegistryConfig carries the subset of the configuration surface (spec.md
// §6) that the registry itself needs.
type RegistryConfig struct {
	StateDir       string
	BufferCapacity int
	SoftSessionCap int
}

// CloseHook is invoked, with the id of a session that was just fully removed
// from the registry (destroyed or evicted), so an external owner of
// per-session resources the registry itself knows nothing about — the
// connection adapter's PTY and output-pump goroutine, keyed independently by
// session id — can stop them. Without this, a destroyed or evicted session
// would leave its shell process and forwarding goroutine running forever
// against a record nothing can reach anymore (spec.md §4.D/§4.E, "free
// resources").
type CloseHook func(id string)

// Registry is the root, long-lived collection of session Records, indexed
// by id (spec.md §4.D, component D). The Registry exclusively owns every
// Record for its entire lifetime (spec.md §3 Ownership).
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Record
	codec     *Codec
	stateDir  string
	softCap   int
	closeHook CloseHook
}

// SetCloseHook registers the function the registry calls after a session is
// destroyed or evicted. main.go wires this to the connection adapter's Close
// method once both are constructed; the session package itself never
// imports the terminal package.
func (reg *Registry) SetCloseHook(hook CloseHook) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.closeHook = hook
}

func (reg *Registry) runCloseHook(id string) {
	reg.mu.RLock()
	hook := reg.closeHook
	reg.mu.RUnlock()
	if hook != nil {
		hook(id)
	}
}

// NewRegistry creates a registry rooted at cfg.StateDir, ensuring the
// directory exists with mode 0755 (spec.md §6).
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("session registry: create state dir: %w", err)
	}
	softCap := cfg.SoftSessionCap
	if softCap <= 0 {
		softCap = 100
	}
	return &Registry{
		sessions: make(map[string]*Record),
		codec:    NewCodec(cfg.StateDir, cfg.BufferCapacity),
		stateDir: cfg.StateDir,
		softCap:  softCap,
	}, nil
}

// CreateNew allocates a brand-new session with a generated id. Fails with
// ErrAlreadyExists only in the astronomically unlikely event of a
// generated-id collision.
func (reg *Registry) CreateNew(name, command, cwd string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec := NewRecord(NewOptions{
		Name:             name,
		Command:          command,
		WorkingDirectory: cwd,
		BufferCapacity:   reg.codec.bufferCapacity,
	})
	if _, exists := reg.sessions[rec.ID()]; exists {
		return nil, ErrAlreadyExists
	}
	reg.sessions[rec.ID()] = rec
	return rec, nil
}

// AttachOrCreate finds a record by id, or creates one using the
// client-supplied id from the outset (spec.md §9, Open Question i — the id
// is never retro-fitted after generation). Returns (record, created, err).
func (reg *Registry) AttachOrCreate(id, cwd string) (*Record, bool, error) {
	if !ValidateID(id) {
		return nil, false, ErrInvalidID
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if rec, ok := reg.sessions[id]; ok {
		return rec, false, nil
	}

	rec := NewRecord(NewOptions{
		ID:               id,
		WorkingDirectory: cwd,
		BufferCapacity:   reg.codec.bufferCapacity,
	})
	reg.sessions[id] = rec
	return rec, true, nil
}

// Find looks up a record by id without creating one.
func (reg *Registry) Find(id string) (*Record, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.sessions[id]
	return rec, ok
}

// Destroy removes id from the index, deletes its on-disk file, and closes
// any attached connection with a normal-closure reason.
func (reg *Registry) Destroy(id string) error {
	reg.mu.Lock()
	rec, ok := reg.sessions[id]
	if !ok {
		reg.mu.Unlock()
		return ErrNotFound
	}
	delete(reg.sessions, id)
	reg.mu.Unlock()

	if _, evicted := rec.AttachForReplay(nil); evicted != nil {
		evicted.Close("session closed")
	}
	rec.Detach(nil)
	reg.runCloseHook(id)

	path := reg.codec.Path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session registry: remove %s: %w", path, err)
	}
	return nil
}

// SaveAll flushes every dirty record via the codec. Failures for individual
// records are logged but do not stop the sweep; a record that fails to save
// keeps needs_save true so the next maintenance tick retries.
func (reg *Registry) SaveAll() error {
	for _, rec := range reg.snapshotRecords() {
		if !rec.Describe().NeedsSave {
			continue
		}
		if err := reg.codec.Save(rec); err != nil {
			logrus.WithError(err).WithField("session_id", rec.ID()).Warn("session registry: checkpoint failed")
		}
	}
	return nil
}

// SessionIDs returns the ids of every currently live record, in no
// particular order. Used by the stats/introspection handler to enumerate
// sessions without exposing the registry's internal map.
func (reg *Registry) SessionIDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.sessions))
	for id := range reg.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Checkpoint immediately flushes a single record via the codec, regardless
// of its dirty flag. The Connection Adapter calls this on disconnect
// (spec.md §4.F step 7) so a crash between disconnects doesn't lose output
// that would otherwise wait for the next maintenance tick.
func (reg *Registry) Checkpoint(id string) error {
	rec, ok := reg.Find(id)
	if !ok {
		return ErrNotFound
	}
	return reg.codec.Save(rec)
}

// snapshotRecords returns a stable slice of all current records, taken
// under the registry lock, so callers can iterate without holding it.
func (reg *Registry) snapshotRecords() []*Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Record, 0, len(reg.sessions))
	for _, rec := range reg.sessions {
		out = append(out, rec)
	}
	return out
}

// RestoreFromDisk enumerates {state_dir}/*.state at startup, decodes each,
// and inserts it into the registry. Files whose stem is not a valid id are
// skipped with a warning. A corrupted file is quarantined (renamed to
// {id}.state.corrupt) rather than deleted — it is never silently lost
// (spec.md §7). Two files resolving to the same id keep the first
// encountered and warn about the second (spec.md §4.D).
func (reg *Registry) RestoreFromDisk() error {
	entries, err := os.ReadDir(reg.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("session registry: read state dir: %w", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), stateFileSuffix) {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), stateFileSuffix)
		if !ValidateID(stem) {
			logrus.WithField("file", entry.Name()).Warn("session registry: skipping file with invalid id stem")
			continue
		}
		if _, exists := reg.sessions[stem]; exists {
			logrus.WithField("session_id", stem).Warn("session registry: duplicate session id on restore, keeping first encountered")
			continue
		}

		rec, err := reg.codec.Load(stem)
		if err != nil {
			reg.quarantine(stem, err)
			continue
		}
		reg.sessions[stem] = rec
	}
	return nil
}

// quarantine renames a corrupted checkpoint file aside so restore can
// continue without silently destroying the operator's data.
func (reg *Registry) quarantine(id string, cause error) {
	path := reg.codec.Path(id)
	quarantined := path + ".corrupt"
	logrus.WithError(cause).WithField("session_id", id).Warn("session registry: quarantining corrupted state file")
	if err := os.Rename(path, quarantined); err != nil {
		logrus.WithError(err).WithField("session_id", id).Error("session registry: failed to quarantine corrupted state file")
	}
}

// Count returns the number of live records.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.sessions)
}

// ActiveCount returns the number of records with an attached connection.
func (reg *Registry) ActiveCount() int {
	count := 0
	for _, rec := range reg.snapshotRecords() {
		if rec.IsActive() {
			count++
		}
	}
	return count
}

// SoftCap returns the configured soft session cap.
func (reg *Registry) SoftCap() int { return reg.softCap }

// Stats is the registry-wide introspection surface, carried from
// original_source's session_registry_get_stats_json (see SPEC_FULL.md §3).
type Stats struct {
	TotalCount  int `json:"total_count"`
	ActiveCount int `json:"active_count"`
	DirtyCount  int `json:"dirty_count"`
	SoftCap     int `json:"soft_session_cap"`
}

// Stats computes a point-in-time snapshot of registry-wide counters.
func (reg *Registry) Stats() Stats {
	stats := Stats{SoftCap: reg.softCap}
	for _, rec := range reg.snapshotRecords() {
		stats.TotalCount++
		meta := rec.Describe()
		if meta.IsActive {
			stats.ActiveCount++
		}
		if meta.NeedsSave {
			stats.DirtyCount++
		}
	}
	return stats
}

// removeEvicted is used only by the maintenance loop: it checkpoints rec
// one last time, then deletes its file and drops it from the index. Unlike
// Destroy, the caller has already decided rec is eligible (inactive, past
// its age or over the soft cap) under the registry's read lock during the
// eviction sweep.
func (reg *Registry) removeEvicted(id string) {
	reg.mu.Lock()
	rec, ok := reg.sessions[id]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.sessions, id)
	reg.mu.Unlock()

	if err := reg.codec.Save(rec); err != nil {
		logrus.WithError(err).WithField("session_id", id).Warn("session registry: final checkpoint before eviction failed")
	}
	reg.runCloseHook(id)
	path := reg.codec.Path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).WithField("session_id", id).Warn("session registry: failed to remove evicted state file")
	}
}

// candidatesForEviction returns the inactive records, in no particular
// order (the maintenance loop sorts them itself). Used only by the
// maintenance loop.
func (reg *Registry) candidatesForEviction() []*Record {
	recs := reg.snapshotRecords()
	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		if !rec.IsActive() {
			out = append(out, rec)
		}
	}
	return out
}

// pathFor is a small helper exposed for tests that need the
// codec's file path without reaching into the registry's internals.
func (reg *Registry) pathFor(id string) string {
	return reg.codec.Path(id)
}
