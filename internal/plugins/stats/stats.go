package stats

import (
	"flag"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/QuadTriangle/wsbridge/internal/hooks"
	"github.com/QuadTriangle/wsbridge/internal/types"
)

// SessionEntry is a single finished session held in the in-memory ring.
type SessionEntry struct {
	ID          string
	ClientAddr  string
	Reason      string
	BytesIn     int64
	BytesOut    int64
	ConnectedAt time.Time
	ClosedAt    time.Time
}

// Store is the in-memory stats store. Safe for concurrent use.
type Store struct {
	ActiveSessions      atomic.Int64
	TotalSessions       atomic.Int64
	RelayingSessions    atomic.Int64
	HandshakeRejections atomic.Int64
	BytesIn             atomic.Int64 // client -> upstream, all sessions
	BytesOut            atomic.Int64 // upstream -> client, all sessions

	mu        sync.RWMutex
	byReason  map[string]int64
	live      map[string]*SessionEntry // keyed by session ID
	logs      []SessionEntry           // ring buffer of finished sessions
	maxLogs   int
	startedAt time.Time
}

func NewStore(maxLogs int) *Store {
	return &Store{
		byReason:  make(map[string]int64),
		live:      make(map[string]*SessionEntry),
		maxLogs:   maxLogs,
		startedAt: time.Now(),
	}
}

func (s *Store) RecordAccept(sid, clientAddr string) {
	s.ActiveSessions.Add(1)
	s.TotalSessions.Add(1)
	s.mu.Lock()
	s.live[sid] = &SessionEntry{ID: sid, ClientAddr: clientAddr, ConnectedAt: time.Now()}
	s.mu.Unlock()
}

func (s *Store) RecordRejected() {
	s.HandshakeRejections.Add(1)
}

func (s *Store) RecordRelaying() {
	s.RelayingSessions.Add(1)
}

func (s *Store) RecordClosed(sid string, reason types.CloseReason, bytesIn, bytesOut int64) {
	s.ActiveSessions.Add(-1)
	s.BytesIn.Add(bytesIn)
	s.BytesOut.Add(bytesOut)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byReason[reason.String()]++

	entry, ok := s.live[sid]
	if !ok {
		return
	}
	delete(s.live, sid)
	entry.Reason = reason.String()
	entry.BytesIn = bytesIn
	entry.BytesOut = bytesOut
	entry.ClosedAt = time.Now()

	// Ring buffer: keep the last maxLogs entries.
	if len(s.logs) >= s.maxLogs {
		s.logs = append(s.logs[1:], *entry)
	} else {
		s.logs = append(s.logs, *entry)
	}
}

// ClosesByReason returns a copy of the per-reason close counters.
func (s *Store) ClosesByReason() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}

// RecentSessions returns the last n finished sessions, newest last.
func (s *Store) RecentSessions(n int) []SessionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.logs) {
		n = len(s.logs)
	}
	out := make([]SessionEntry, n)
	copy(out, s.logs[len(s.logs)-n:])
	return out
}

func (s *Store) StartedAt() time.Time { return s.startedAt }

// --- Plugin wiring ---

// Plugin implements hooks.Plugin for in-memory session stats.
// Controlled by a single -stats-port flag: port > 0 enables the counters and
// the local JSON API, 0 disables everything.
type Plugin struct {
	statsPort int
	store     *Store
	server    *Server
	startOnce sync.Once
}

func New() *Plugin {
	return &Plugin{store: NewStore(1000)}
}

func (p *Plugin) Name() string { return "stats" }

func (p *Plugin) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&p.statsPort, "stats-port", 0, "Local stats API port (0 disables stats entirely)")
}

func (p *Plugin) Enabled() bool { return p.statsPort > 0 }

func (p *Plugin) SessionHooks() []hooks.SessionHook {
	return []hooks.SessionHook{&sessionHook{store: p.store, plugin: p}}
}

// Store returns the underlying store for external consumers.
func (p *Plugin) Store() *Store { return p.store }

// startServer starts the local JSON API on first use.
func (p *Plugin) startServer() {
	p.startOnce.Do(func() {
		srv, err := StartServer(p.store, p.statsPort)
		if err != nil {
			log.Printf("[stats] failed to start stats server: %v", err)
			return
		}
		p.server = srv
		log.Printf("[stats] API listening on http://%s", srv.Addr())
	})
}

// --- Hooks ---

type sessionHook struct {
	hooks.NoOpSessionHook
	store  *Store
	plugin *Plugin
}

func (h *sessionHook) OnAccept(sid, clientAddr string) {
	h.store.RecordAccept(sid, clientAddr)
	h.plugin.startServer()
}

func (h *sessionHook) OnHandshakeRejected(_, _ string, _ error) {
	h.store.RecordRejected()
}

func (h *sessionHook) OnRelaying(_ string) {
	h.store.RecordRelaying()
}

func (h *sessionHook) OnClosed(sid string, reason types.CloseReason, bytesIn, bytesOut int64) {
	h.store.RecordClosed(sid, reason, bytesIn, bytesOut)
}
