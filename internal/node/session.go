package node

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rat-data/ratd-core/internal/cache"
	"github.com/rat-data/ratd-core/internal/domain"
)

// startTimeTTL is effectively "forever" — the cache is reused purely as a
// concurrency-safe keyed map (per SPEC_FULL.md §4), not as an expiring
// cache; a session's start_time must persist for the life of the session.
const startTimeTTL = 100 * 365 * 24 * time.Hour

// startTimeCache is process-wide, keyed by session id, per spec.md §6.
var startTimeCache = cache.New[uuid.UUID, time.Time](cache.Options{TTL: startTimeTTL, MaxEntries: 10000})

// Session is the in-memory state for one remote node daemon. Status,
// Interrupt, and Clients are owned per spec.md §3/§5: the controller
// writes Status=true before spawning the worker; the worker is the only
// writer of Status=false on exit; stop() writes Status=false after a
// successful DELETE. Callers needing a consistent snapshot take mu.
type Session struct {
	ID       uuid.UUID
	Name     string
	NodeIP   string
	NodePort int
	NodeKey  string

	mu        sync.Mutex
	Status    bool
	Interrupt bool
	Clients   []domain.ClientEntry
}

// NewSession constructs a stopped Session for the given server.
func NewSession(server domain.Server) *Session {
	return &Session{
		ID:       server.ID,
		Name:     server.Name,
		NodeIP:   server.NodeIP,
		NodePort: server.NodePort,
		NodeKey:  server.NodeKey,
	}
}

// IsRunning reports whether the session is currently Running.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// Snapshot returns a consistent copy of status/interrupt/clients.
func (s *Session) Snapshot() domain.NodeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make([]domain.ClientEntry, len(s.Clients))
	copy(clients, s.Clients)
	return domain.NodeSession{
		ID: s.ID, Name: s.Name, NodeIP: s.NodeIP, NodePort: s.NodePort,
		Status: s.Status, Interrupt: s.Interrupt, Clients: clients,
	}
}

// setInterrupt sets the cooperative stop flag.
func (s *Session) setInterrupt(v bool) {
	s.mu.Lock()
	s.Interrupt = v
	s.mu.Unlock()
}

// interrupted reports the cooperative stop flag.
func (s *Session) interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Interrupt
}

// setStatus sets the running flag.
func (s *Session) setStatus(v bool) {
	s.mu.Lock()
	s.Status = v
	s.mu.Unlock()
}

// stampStartTime records start_time = now-1s in the process-wide cache, to
// guarantee strict monotonicity of subsequent stamps (spec.md §6).
func (s *Session) stampStartTime() {
	startTimeCache.Set(s.ID, time.Now().Add(-time.Second))
}

// StartTime returns the recorded start time, if any.
func (s *Session) StartTime() (time.Time, bool) {
	return startTimeCache.Get(s.ID)
}
