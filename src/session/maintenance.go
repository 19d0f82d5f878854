package session

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaintenanceConfig carries the cadence and policy knobs from spec.md §6
// that the maintenance loop needs.
type MaintenanceConfig struct {
	SaveInterval    time.Duration // default 30s — also the dirty-flush threshold
	CleanupInterval time.Duration // default 3600s — minimum spacing between eviction sweeps
	MaxInactiveAge  time.Duration // default 604800s (7 days)
	SoftSessionCap  int           // default 100
}

// MaintenanceLoop is the single long-running task (spec.md §4.E, component
// E) that periodically flushes dirty sessions, recomputes activity
// counters, and evicts stale/excess sessions.
type MaintenanceLoop struct {
	registry *Registry
	cfg      MaintenanceConfig

	mu            sync.Mutex
	lastCleanup   time.Time
	activeCount   int
	stopCh        chan struct{}
	doneCh        chan struct{}
	startOnce     sync.Once
}

// NewMaintenanceLoop constructs a loop over registry with the given cadence.
// Zero-valued fields in cfg fall back to spec.md §6's defaults, except
// CleanupInterval: zero lets every tick run an eviction sweep, and only a
// negative value falls back to the default. The first sweep is due one
// CleanupInterval after construction.
func NewMaintenanceLoop(registry *Registry, cfg MaintenanceConfig) *MaintenanceLoop {
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = 30 * time.Second
	}
	if cfg.CleanupInterval < 0 {
		cfg.CleanupInterval = 3600 * time.Second
	}
	if cfg.MaxInactiveAge <= 0 {
		cfg.MaxInactiveAge = 7 * 24 * time.Hour
	}
	if cfg.SoftSessionCap <= 0 {
		cfg.SoftSessionCap = 100
	}
	return &MaintenanceLoop{
		registry:    registry,
		cfg:         cfg,
		lastCleanup: time.Now(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the loop on a timer of cfg.SaveInterval until Stop is called.
// Safe to call at most once; matches the teacher's ticker/select pattern.
func (m *MaintenanceLoop) Start() {
	m.startOnce.Do(func() {
		go func() {
			defer close(m.doneCh)
			ticker := time.NewTicker(m.cfg.SaveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.Tick()
				case <-m.stopCh:
					return
				}
			}
		}()
	})
}

// Stop signals the loop to exit and waits for it to do so.
func (m *MaintenanceLoop) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Tick runs one maintenance pass: dirty flush, activity accounting, and
// (at most once per CleanupInterval) eviction. Exported so tests can drive
// deterministic iterations instead of waiting on the real ticker.
func (m *MaintenanceLoop) Tick() {
	m.flushDirty()
	m.accountActivity()
	m.maybeEvict()
}

func (m *MaintenanceLoop) flushDirty() {
	for _, rec := range m.registry.snapshotRecords() {
		if !rec.NeedsSaving(m.cfg.SaveInterval) {
			continue
		}
		if err := m.registry.codec.Save(rec); err != nil {
			logrus.WithError(err).WithField("session_id", rec.ID()).Warn("maintenance: checkpoint failed, will retry next tick")
		}
	}
}

func (m *MaintenanceLoop) accountActivity() {
	count := m.registry.ActiveCount()
	m.mu.Lock()
	m.activeCount = count
	m.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"active_count": count,
		"total_count":  m.registry.Count(),
	}).Debug("maintenance: activity accounting")
}

// ActiveCount returns the active-session count as of the last tick.
func (m *MaintenanceLoop) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCount
}

func (m *MaintenanceLoop) maybeEvict() {
	m.mu.Lock()
	due := time.Since(m.lastCleanup) >= m.cfg.CleanupInterval
	if due {
		m.lastCleanup = time.Now()
	}
	m.mu.Unlock()
	if !due {
		return
	}
	m.evict()
}

// evict marks inactive records older than MaxInactiveAge for removal; if
// the registry still exceeds SoftSessionCap afterwards, it also removes the
// oldest remaining inactive records until at cap. Active sessions are never
// considered regardless of age or cap (spec.md §4.E).
func (m *MaintenanceLoop) evict() {
	now := time.Now()
	candidates := m.registry.candidatesForEviction()

	remaining := make([]*Record, 0, len(candidates))
	for _, rec := range candidates {
		if now.Sub(rec.LastAccessed()) > m.cfg.MaxInactiveAge {
			logrus.WithField("session_id", rec.ID()).Info("maintenance: evicting session past max inactive age")
			m.registry.removeEvicted(rec.ID())
			continue
		}
		remaining = append(remaining, rec)
	}

	total := m.registry.Count()
	if total <= m.cfg.SoftSessionCap {
		return
	}

	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].LastAccessed().Before(remaining[j].LastAccessed())
	})

	overflow := total - m.cfg.SoftSessionCap
	for i := 0; i < overflow && i < len(remaining); i++ {
		logrus.WithField("session_id", remaining[i].ID()).Info("maintenance: evicting oldest inactive session, over soft cap")
		m.registry.removeEvicted(remaining[i].ID())
	}
}
