package store

import (
	"testing"

	"causal-kv/internal/vclock"
)

func newTestStore(t *testing.T, nodeID, n int) *Store {
	t.Helper()
	s, err := New("", nodeID, n)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// Scenario 1: single-node write.
func TestLocalWriteSingleNode(t *testing.T) {
	s := newTestStore(t, 0, 3)

	stamp, err := s.LocalWrite("x", "1")
	if err != nil {
		t.Fatalf("LocalWrite: %v", err)
	}
	want := vclock.Stamp{1, 0, 0}
	if !stamp.Equal(want) {
		t.Fatalf("stamp = %v, want %v", stamp, want)
	}

	e, ok := s.Read("x")
	if !ok {
		t.Fatal("Read(x) not found")
	}
	if e.Value != "1" || !e.Stamp.Equal(want) {
		t.Fatalf("Read(x) = %+v, want value=1 stamp=%v", e, want)
	}
}

// Scenario 3: duplicate replication.
func TestApplyReplicationDuplicate(t *testing.T) {
	s := newTestStore(t, 1, 3)

	outcome, err := s.ApplyReplication("x", "1", vclock.Stamp{1, 0, 0}, 0)
	if err != nil {
		t.Fatalf("ApplyReplication: %v", err)
	}
	if outcome != Applied {
		t.Fatalf("first delivery = %v, want Applied", outcome)
	}

	outcome, err = s.ApplyReplication("x", "1", vclock.Stamp{1, 0, 0}, 0)
	if err != nil {
		t.Fatalf("ApplyReplication: %v", err)
	}
	if outcome != Duplicate {
		t.Fatalf("second delivery = %v, want Duplicate", outcome)
	}

	snap := s.Snapshot()
	if !snap.Clock.Equal(vclock.Stamp{1, 0, 0}) {
		t.Fatalf("final clock = %v, want [1,0,0]", snap.Clock)
	}
	if snap.Pending != 0 {
		t.Fatalf("pending = %d, want 0", snap.Pending)
	}
}

// Scenario 4: out-of-order within a single sender.
func TestApplyReplicationOutOfOrderSameSender(t *testing.T) {
	s := newTestStore(t, 0, 3) // self=0, sender=1

	// y arrives first with C[1]=2 — a gap, must buffer.
	outcome, err := s.ApplyReplication("y", "2", vclock.Stamp{0, 2, 0}, 1)
	if err != nil {
		t.Fatalf("ApplyReplication(y): %v", err)
	}
	if outcome != Buffered {
		t.Fatalf("y outcome = %v, want Buffered", outcome)
	}
	if _, ok := s.Read("y"); ok {
		t.Fatal("y should not be visible while buffered")
	}

	// z arrives with C[1]=1 — the missing prerequisite. Applies, then
	// drain releases y.
	outcome, err = s.ApplyReplication("z", "1", vclock.Stamp{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("ApplyReplication(z): %v", err)
	}
	if outcome != Applied {
		t.Fatalf("z outcome = %v, want Applied", outcome)
	}

	snap := s.Snapshot()
	if !snap.Clock.Equal(vclock.Stamp{0, 2, 0}) {
		t.Fatalf("final clock = %v, want [0,2,0]", snap.Clock)
	}
	if snap.Pending != 0 {
		t.Fatalf("pending = %d, want 0", snap.Pending)
	}
	if e, ok := s.Read("y"); !ok || e.Value != "2" {
		t.Fatalf("y after drain = %+v, ok=%v", e, ok)
	}
}

// Scenario 6: missing prerequisite never arrives — pending stays forever,
// KV and clock stay untouched.
func TestApplyReplicationMissingPrerequisite(t *testing.T) {
	s := newTestStore(t, 2, 3)

	outcome, err := s.ApplyReplication("y", "2", vclock.Stamp{1, 1, 0}, 1)
	if err != nil {
		t.Fatalf("ApplyReplication: %v", err)
	}
	if outcome != Buffered {
		t.Fatalf("outcome = %v, want Buffered", outcome)
	}

	snap := s.Snapshot()
	if len(snap.KV) != 0 {
		t.Fatalf("KV = %+v, want empty", snap.KV)
	}
	if !snap.Clock.Equal(vclock.Stamp{0, 0, 0}) {
		t.Fatalf("clock = %v, want [0,0,0]", snap.Clock)
	}
	if snap.Pending != 1 {
		t.Fatalf("pending = %d, want 1", snap.Pending)
	}

	// The missing prerequisite arrives later — x applies, then drain
	// releases y.
	outcome, err = s.ApplyReplication("x", "1", vclock.Stamp{1, 0, 0}, 0)
	if err != nil {
		t.Fatalf("ApplyReplication(x): %v", err)
	}
	if outcome != Applied {
		t.Fatalf("x outcome = %v, want Applied", outcome)
	}

	snap = s.Snapshot()
	if snap.Pending != 0 {
		t.Fatalf("pending after drain = %d, want 0", snap.Pending)
	}
	if _, ok := s.Read("y"); !ok {
		t.Fatal("y should be applied after drain")
	}
}

func TestApplyReplicationRejectsBadInput(t *testing.T) {
	s := newTestStore(t, 0, 3)

	// Wrong stamp length.
	outcome, err := s.ApplyReplication("x", "1", vclock.Stamp{1, 0}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Rejected {
		t.Fatalf("bad length outcome = %v, want Rejected", outcome)
	}

	// Sender out of range.
	outcome, _ = s.ApplyReplication("x", "1", vclock.Stamp{1, 0, 0}, 9)
	if outcome != Rejected {
		t.Fatalf("bad sender outcome = %v, want Rejected", outcome)
	}

	// Sender == self.
	outcome, _ = s.ApplyReplication("x", "1", vclock.Stamp{1, 0, 0}, 0)
	if outcome != Rejected {
		t.Fatalf("self-sender outcome = %v, want Rejected", outcome)
	}
}

func TestReplayWithWAL(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir, 0, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.LocalWrite("x", "1"); err != nil {
		t.Fatalf("LocalWrite: %v", err)
	}
	if _, err := s.LocalWrite("y", "2"); err != nil {
		t.Fatalf("LocalWrite: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := New(dir, 0, 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if e, ok := s2.Read("x"); !ok || e.Value != "1" {
		t.Fatalf("Read(x) after replay = %+v, ok=%v", e, ok)
	}
	if e, ok := s2.Read("y"); !ok || e.Value != "2" {
		t.Fatalf("Read(y) after replay = %+v, ok=%v", e, ok)
	}
	snap := s2.Snapshot()
	if !snap.Clock.Equal(vclock.Stamp{2, 0}) {
		t.Fatalf("clock after replay = %v, want [2,0]", snap.Clock)
	}
}

func TestSnapshotTruncatesWAL(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := s.LocalWrite("x", "1"); err != nil {
		t.Fatalf("LocalWrite: %v", err)
	}
	if err := s.SaveSnapshot(); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if entries, err := s.wal.readAll(); err != nil || len(entries) != 0 {
		t.Fatalf("WAL after snapshot = %d entries (err=%v), want 0", len(entries), err)
	}

	s2, err := New(dir, 0, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if e, ok := s2.Read("x"); !ok || e.Value != "1" {
		t.Fatalf("Read(x) after snapshot reload = %+v, ok=%v", e, ok)
	}
}
