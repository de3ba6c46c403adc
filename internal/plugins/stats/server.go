package stats

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
)

// JSON response types for the local stats API.

type summaryJSON struct {
	ActiveSessions      int64            `json:"active_sessions"`
	TotalSessions       int64            `json:"total_sessions"`
	RelayingSessions    int64            `json:"relaying_sessions"`
	HandshakeRejections int64            `json:"handshake_rejections"`
	BytesIn             int64            `json:"bytes_in"`
	BytesOut            int64            `json:"bytes_out"`
	ClosesByReason      map[string]int64 `json:"closes_by_reason"`
	StartedAt           int64            `json:"started_at"`
}

type sessionJSON struct {
	ID          string `json:"id"`
	ClientAddr  string `json:"client_addr"`
	Reason      string `json:"reason"`
	BytesIn     int64  `json:"bytes_in"`
	BytesOut    int64  `json:"bytes_out"`
	ConnectedAt int64  `json:"connected_at"`
	ClosedAt    int64  `json:"closed_at"`
}

// Server serves the stats API on a loopback listener.
type Server struct {
	store    *Store
	listener net.Listener
}

// StartServer starts the local stats HTTP server on the given port.
func StartServer(store *Store, port int) (*Server, error) {
	mux := http.NewServeMux()
	s := &Server{store: store}

	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/sessions", s.handleSessions)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	s.listener = ln

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[stats] server error: %v", err)
		}
	}()

	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"summary": summaryJSON{
		ActiveSessions:      s.store.ActiveSessions.Load(),
		TotalSessions:       s.store.TotalSessions.Load(),
		RelayingSessions:    s.store.RelayingSessions.Load(),
		HandshakeRejections: s.store.HandshakeRejections.Load(),
		BytesIn:             s.store.BytesIn.Load(),
		BytesOut:            s.store.BytesOut.Load(),
		ClosesByReason:      s.store.ClosesByReason(),
		StartedAt:           s.store.StartedAt().Unix(),
	}})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	entries := s.store.RecentSessions(limit)
	sessions := make([]sessionJSON, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		sessions = append(sessions, sessionJSON{
			ID:          e.ID,
			ClientAddr:  e.ClientAddr,
			Reason:      e.Reason,
			BytesIn:     e.BytesIn,
			BytesOut:    e.BytesOut,
			ConnectedAt: e.ConnectedAt.Unix(),
			ClosedAt:    e.ClosedAt.Unix(),
		})
	}
	writeJSON(w, map[string]any{"sessions": sessions})
}
