package stats

import (
	"testing"

	"github.com/QuadTriangle/wsbridge/internal/types"
)

func TestStoreSessionLifecycle(t *testing.T) {
	s := NewStore(10)

	s.RecordAccept("s1", "127.0.0.1:40000")
	s.RecordRelaying()
	if got := s.ActiveSessions.Load(); got != 1 {
		t.Errorf("ActiveSessions = %d, want 1", got)
	}

	s.RecordClosed("s1", types.ReasonNormal, 100, 200)
	if got := s.ActiveSessions.Load(); got != 0 {
		t.Errorf("ActiveSessions = %d, want 0", got)
	}
	if got := s.TotalSessions.Load(); got != 1 {
		t.Errorf("TotalSessions = %d, want 1", got)
	}
	if got := s.BytesIn.Load(); got != 100 {
		t.Errorf("BytesIn = %d, want 100", got)
	}
	if got := s.BytesOut.Load(); got != 200 {
		t.Errorf("BytesOut = %d, want 200", got)
	}
	if got := s.ClosesByReason()["normal"]; got != 1 {
		t.Errorf("ClosesByReason[normal] = %d, want 1", got)
	}

	recent := s.RecentSessions(10)
	if len(recent) != 1 {
		t.Fatalf("RecentSessions = %d entries, want 1", len(recent))
	}
	e := recent[0]
	if e.ID != "s1" || e.ClientAddr != "127.0.0.1:40000" || e.Reason != "normal" {
		t.Errorf("entry = %+v", e)
	}
	if e.BytesIn != 100 || e.BytesOut != 200 {
		t.Errorf("entry bytes = %d/%d, want 100/200", e.BytesIn, e.BytesOut)
	}
}

func TestStoreRingBufferEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		s.RecordAccept(id, "127.0.0.1:1")
		s.RecordClosed(id, types.ReasonNormal, 0, 0)
	}

	recent := s.RecentSessions(10)
	if len(recent) != 3 {
		t.Fatalf("RecentSessions = %d entries, want 3", len(recent))
	}
	want := []string{"b", "c", "d"}
	for i, w := range want {
		if recent[i].ID != w {
			t.Errorf("recent[%d].ID = %q, want %q", i, recent[i].ID, w)
		}
	}
}

func TestStoreRejectionsCounted(t *testing.T) {
	s := NewStore(10)
	s.RecordRejected()
	s.RecordRejected()
	if got := s.HandshakeRejections.Load(); got != 2 {
		t.Errorf("HandshakeRejections = %d, want 2", got)
	}
}
