package channel

import (
	"strconv"
	"testing"

	"globalpulse/internal/models"
)

func newTestRegistry() *Registry {
	return NewRegistry(DefaultChannels())
}

func TestRegistry_DefaultChannels(t *testing.T) {
	r := newTestRegistry()
	chs := r.List()
	if len(chs) != 6 {
		t.Fatalf("List() returned %d channels, want 6", len(chs))
	}
	if _, ok := r.Get("finance"); !ok {
		t.Error("Get(finance) not found")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) should not be found")
	}
}

func TestRegistry_AppendUnknownChannel(t *testing.T) {
	r := newTestRegistry()
	err := r.Append("nope", models.ChatMessage{ID: "1"})
	if err != ErrUnknownChannel {
		t.Errorf("Append() error = %v, want ErrUnknownChannel", err)
	}
}

func TestRegistry_HistoryEviction(t *testing.T) {
	r := newTestRegistry()

	// Overfill: only the newest HistoryCap messages survive, in arrival order.
	for i := 0; i < HistoryCap+50; i++ {
		if err := r.Append("global", models.ChatMessage{ID: strconv.Itoa(i)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if got := r.Count("global"); got != HistoryCap {
		t.Fatalf("Count() = %d, want %d", got, HistoryCap)
	}
	all := r.Recent("global", HistoryCap)
	if len(all) != HistoryCap {
		t.Fatalf("Recent() returned %d messages, want %d", len(all), HistoryCap)
	}
	if all[0].ID != "50" {
		t.Errorf("oldest surviving message = %s, want 50", all[0].ID)
	}
	if all[len(all)-1].ID != strconv.Itoa(HistoryCap+49) {
		t.Errorf("newest message = %s, want %d", all[len(all)-1].ID, HistoryCap+49)
	}
	for i := 1; i < len(all); i++ {
		prev, _ := strconv.Atoi(all[i-1].ID)
		cur, _ := strconv.Atoi(all[i].ID)
		if cur != prev+1 {
			t.Fatalf("order broken at index %d: %d -> %d", i, prev, cur)
		}
	}
}

func TestRegistry_RecentLimits(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 10; i++ {
		r.Append("tech", models.ChatMessage{ID: strconv.Itoa(i)})
	}

	last3 := r.Recent("tech", 3)
	if len(last3) != 3 {
		t.Fatalf("Recent(3) returned %d messages", len(last3))
	}
	if last3[0].ID != "7" || last3[2].ID != "9" {
		t.Errorf("Recent(3) = [%s..%s], want [7..9]", last3[0].ID, last3[2].ID)
	}

	// Asking for more than exists returns everything.
	if got := r.Recent("tech", 50); len(got) != 10 {
		t.Errorf("Recent(50) returned %d messages, want 10", len(got))
	}
	if got := r.Recent("sports", 50); len(got) != 0 {
		t.Errorf("Recent() on empty channel returned %d messages, want 0", len(got))
	}
}
