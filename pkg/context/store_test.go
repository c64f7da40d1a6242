package context

import (
	"testing"
	"time"
)

func TestGetOrCreateMintsNewSession(t *testing.T) {
	s := NewSessionStore(time.Hour, 50, DefaultHeuristic())

	ctx := s.GetOrCreate("")
	if ctx.SessionID() == "" {
		t.Fatal("new session should have a minted id")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	s := NewSessionStore(time.Hour, 50, DefaultHeuristic())

	first := s.GetOrCreate("")
	second := s.GetOrCreate(first.SessionID())
	if first != second {
		t.Fatal("same id should return the same context")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestUnknownIDBehavesLikeEmpty(t *testing.T) {
	s := NewSessionStore(time.Hour, 50, DefaultHeuristic())

	ctx := s.GetOrCreate("never-issued")
	if ctx.SessionID() == "never-issued" {
		t.Fatal("unknown ids must not be adopted; a fresh id should be minted")
	}
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	s := NewSessionStore(10*time.Millisecond, 50, DefaultHeuristic())

	first := s.GetOrCreate("")
	time.Sleep(20 * time.Millisecond)

	second := s.GetOrCreate(first.SessionID())
	if second.SessionID() == first.SessionID() {
		t.Fatal("expired session should be replaced with a fresh one")
	}
	if got := s.Get(first.SessionID()); got != nil {
		t.Fatal("expired session should be gone")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	s := NewSessionStore(10*time.Millisecond, 50, DefaultHeuristic())

	s.GetOrCreate("")
	s.GetOrCreate("")
	time.Sleep(20 * time.Millisecond)
	live := s.GetOrCreate("")

	if removed := s.Sweep(); removed != 2 {
		t.Fatalf("Sweep removed %d, want 2", removed)
	}
	if got := s.Get(live.SessionID()); got == nil {
		t.Fatal("live session should survive the sweep")
	}
}
