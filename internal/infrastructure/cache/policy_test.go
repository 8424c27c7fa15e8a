package cache

import (
	"testing"
	"time"
)

func TestPolicy_ShouldKeepLocal(t *testing.T) {
	p := NewPolicy(1 << 30)

	if p.ShouldKeepLocal("photos/cat.jpg") {
		t.Error("unknown original should not be kept")
	}

	p.RecordAccess("photos/cat.jpg")
	if p.ShouldKeepLocal("photos/cat.jpg") {
		t.Error("single request within the hour should not qualify")
	}

	p.RecordAccess("photos/cat.jpg")
	if !p.ShouldKeepLocal("photos/cat.jpg") {
		t.Error("second request within the hour should qualify")
	}
}

func TestPolicy_AccessWindowRestart(t *testing.T) {
	p := NewPolicy(1 << 30)

	p.RecordAccess("old.jpg")
	p.RecordAccess("old.jpg")
	p.RecordWrite("old.jpg", 500)

	// Age the window past an hour; the next access restarts counting but
	// keeps byte attribution.
	rec := p.records["old.jpg"]
	rec.firstAccess = time.Now().Add(-2 * time.Hour)
	rec.lastAccess = time.Now().Add(-2 * time.Hour)

	p.RecordAccess("old.jpg")
	if p.ShouldKeepLocal("old.jpg") {
		t.Error("restarted window should count from one")
	}
	if got := p.records["old.jpg"].totalSize; got != 500 {
		t.Errorf("totalSize = %d, want byte attribution preserved (500)", got)
	}
}

func TestPolicy_ShouldCleanup(t *testing.T) {
	p := NewPolicy(1000)

	p.RecordWrite("a.jpg", 700)
	if p.ShouldCleanup() {
		t.Error("70% of ceiling should not trigger cleanup")
	}

	p.RecordWrite("b.jpg", 200)
	if !p.ShouldCleanup() {
		t.Error("90% of ceiling should trigger cleanup")
	}
	if p.TrackedBytes() != 900 {
		t.Errorf("TrackedBytes = %d, want 900", p.TrackedBytes())
	}
}

func TestPolicy_Evict(t *testing.T) {
	p := NewPolicy(1000)

	// Ten originals with increasing lastAccess; eviction drops the two
	// oldest (20%).
	base := time.Now().Add(-time.Hour)
	paths := []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9"}
	for i, path := range paths {
		p.RecordWrite(path, 100)
		p.records[path].lastAccess = base.Add(time.Duration(i) * time.Minute)
	}

	evicted := p.Evict()
	if len(evicted) != 2 {
		t.Fatalf("evicted %d records, want 2", len(evicted))
	}
	got := map[string]bool{evicted[0]: true, evicted[1]: true}
	if !got["p0"] || !got["p1"] {
		t.Errorf("evicted = %v, want the two oldest (p0, p1)", evicted)
	}
	if p.TrackedBytes() != 800 {
		t.Errorf("TrackedBytes = %d, want 800 after evicting 200", p.TrackedBytes())
	}
}

func TestPolicy_Evict_MinimumOne(t *testing.T) {
	p := NewPolicy(1000)
	p.RecordWrite("only.jpg", 100)

	evicted := p.Evict()
	if len(evicted) != 1 {
		t.Errorf("evicted %d, want 1 even when 20%% rounds to zero", len(evicted))
	}
}

func TestPolicy_Evict_Empty(t *testing.T) {
	p := NewPolicy(1000)
	if evicted := p.Evict(); evicted != nil {
		t.Errorf("Evict on empty policy = %v, want nil", evicted)
	}
}

func TestPolicy_Forget(t *testing.T) {
	p := NewPolicy(1000)
	p.RecordWrite("gone.jpg", 300)
	p.RecordWrite("kept.jpg", 100)

	p.Forget("gone.jpg")
	if p.TrackedBytes() != 100 {
		t.Errorf("TrackedBytes = %d, want 100", p.TrackedBytes())
	}
	if p.ShouldKeepLocal("gone.jpg") {
		t.Error("forgotten original should not be kept")
	}
}
