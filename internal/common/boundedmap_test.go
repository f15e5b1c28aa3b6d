package common

import (
	"fmt"
	"testing"
)

func TestBoundedCounterEvictsOldestFirst(t *testing.T) {
	c := NewBoundedCounter(3)
	c.Inc("a")
	c.Inc("b")
	c.Inc("c")
	c.Inc("a") // bump, no eviction

	c.Inc("d") // evicts "a" (oldest inserted), even though it has the highest count

	if got := c.Get("a"); got != 0 {
		t.Errorf("expected a evicted, got count %d", got)
	}
	if got := c.Get("b"); got != 1 {
		t.Errorf("expected b=1, got %d", got)
	}
	if got := c.Get("d"); got != 1 {
		t.Errorf("expected d=1, got %d", got)
	}
	if c.Len() != 3 {
		t.Errorf("expected len 3, got %d", c.Len())
	}
}

func TestBoundedCounterConstantMemory(t *testing.T) {
	c := NewBoundedCounter(10)
	for i := 0; i < 1000; i++ {
		c.Inc(fmt.Sprintf("tag-%d", i))
	}
	if c.Len() != 10 {
		t.Errorf("expected len capped at 10, got %d", c.Len())
	}
	snap := c.Snapshot()
	if len(snap) != 10 {
		t.Errorf("expected snapshot of 10 entries, got %d", len(snap))
	}
	// only the most recent 10 survive
	if _, ok := snap["tag-999"]; !ok {
		t.Error("expected latest tag retained")
	}
	if _, ok := snap["tag-0"]; ok {
		t.Error("expected earliest tag evicted")
	}
}
