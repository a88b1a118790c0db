package progress

import (
	"testing"
	"time"
)

func TestBrokerEvictsTopicsAfterRetention(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBroker(time.Minute)
	b.now = func() time.Time { return now }

	b.Open("old")
	b.Close("old")
	b.Open("live")

	now = now.Add(30 * time.Second)
	b.Open("recent")
	b.Close("recent")
	if got := b.Len(); got != 3 {
		t.Fatalf("Len = %d before retention elapsed, want 3", got)
	}

	now = now.Add(45 * time.Second)
	b.Open("next")
	b.Close("next")

	if _, ok := b.topics["old"]; ok {
		t.Error("topic closed 75s ago should be evicted")
	}
	for _, id := range []string{"live", "recent", "next"} {
		if _, ok := b.topics[id]; !ok {
			t.Errorf("topic %q evicted too early", id)
		}
	}
}
