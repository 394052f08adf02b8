package peer

import (
	"fmt"
	"testing"
	"time"
)

func TestObserveCreatesAndRefreshes(t *testing.T) {
	r := NewRegistry(0)

	r.Observe("AA:BB", "node-1", -60)
	p, ok := r.Get("AA:BB")
	if !ok {
		t.Fatal("peer not cached after Observe")
	}
	if p.Name != "node-1" || p.RSSI != -60 {
		t.Errorf("got name=%q rssi=%d", p.Name, p.RSSI)
	}
	if p.FirstSeen.IsZero() || p.LastSeen.IsZero() {
		t.Error("timestamps not set")
	}

	first := p.FirstSeen
	r.Observe("AA:BB", "", -45)
	p, _ = r.Get("AA:BB")
	if p.RSSI != -45 {
		t.Errorf("RSSI not refreshed: %d", p.RSSI)
	}
	if p.Name != "node-1" {
		t.Errorf("empty name overwrote %q", p.Name)
	}
	if !p.FirstSeen.Equal(first) {
		t.Error("FirstSeen changed on refresh")
	}
}

func TestObserveEvictsOldest(t *testing.T) {
	r := NewRegistry(5)

	for i := 0; i < 5; i++ {
		r.Observe(fmt.Sprintf("addr-%d", i), "", -50)
		time.Sleep(time.Millisecond)
	}
	// addr-0 has the oldest last-seen, so the sixth entry evicts it.
	r.Observe("addr-5", "", -50)

	if r.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", r.Len())
	}
	if _, ok := r.Get("addr-0"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := r.Get("addr-5"); !ok {
		t.Error("newest entry evicted")
	}
}

func TestObserveRefreshProtectsFromEviction(t *testing.T) {
	r := NewRegistry(3)

	r.Observe("old", "", -50)
	time.Sleep(time.Millisecond)
	r.Observe("mid", "", -50)
	time.Sleep(time.Millisecond)
	r.Observe("new", "", -50)
	time.Sleep(time.Millisecond)

	// Refreshing "old" makes "mid" the eviction candidate.
	r.Observe("old", "", -48)
	time.Sleep(time.Millisecond)
	r.Observe("extra", "", -50)

	if _, ok := r.Get("old"); !ok {
		t.Error("refreshed entry evicted")
	}
	if _, ok := r.Get("mid"); ok {
		t.Error("stalest entry survived")
	}
}

func TestRecordCounters(t *testing.T) {
	r := NewRegistry(0)
	r.Observe("AA:BB", "", -50)

	r.RecordAttempt("AA:BB")
	r.RecordAttempt("AA:BB")
	r.RecordSuccess("AA:BB")
	if got := r.RecordFailure("AA:BB"); got != 1 {
		t.Errorf("RecordFailure returned %d, want 1", got)
	}

	p, _ := r.Get("AA:BB")
	if p.Attempts != 2 || p.Successes != 1 || p.Failures != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1", p.Attempts, p.Successes, p.Failures)
	}
	if p.LastAttempt.IsZero() {
		t.Error("LastAttempt not set")
	}
	if got := p.SuccessRate(); got != 0.5 {
		t.Errorf("SuccessRate() = %v, want 0.5", got)
	}
}

func TestRecordUnknownAddress(t *testing.T) {
	r := NewRegistry(0)
	r.RecordAttempt("nope")
	r.RecordSuccess("nope")
	if got := r.RecordFailure("nope"); got != 0 {
		t.Errorf("RecordFailure on unknown = %d, want 0", got)
	}
	if r.Len() != 0 {
		t.Error("recording on an unknown address created an entry")
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	r := NewRegistry(0)
	r.Observe("AA:BB", "", -50)

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d entries", len(snap))
	}
	snap[0].RSSI = -10

	p, _ := r.Get("AA:BB")
	if p.RSSI != -50 {
		t.Error("mutating a snapshot changed the registry")
	}
}
