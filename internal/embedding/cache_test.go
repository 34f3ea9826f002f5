package embedding

import (
	"fmt"
	"testing"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestCache_EvictsInInsertionOrder(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	// Reading a does not protect it: eviction is by insertion, not by use.
	c.Get("a")
	c.Set("c", []float32{3})
	if _, ok := c.Get("a"); ok {
		t.Error("a is the oldest insertion and should be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should remain")
	}
}

func TestCache_NeverExceedsCapacity(t *testing.T) {
	c := NewCache(10)
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("k%d", i), []float32{float32(i)})
		if c.Len() > c.Capacity() {
			t.Fatalf("len %d exceeds capacity %d", c.Len(), c.Capacity())
		}
	}
	if c.Len() != 10 {
		t.Errorf("len = %d, want 10", c.Len())
	}
	if _, ok := c.Get("k90"); !ok {
		t.Error("most recent entries should remain")
	}
}

func TestCache_Counters(t *testing.T) {
	c := NewCache(4)
	c.Set("a", []float32{1})
	c.Get("a")
	c.Get("a")
	c.Get("b")
	hits, misses := c.Counters()
	if hits != 2 || misses != 1 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Error("clear should empty the cache")
	}
}
