package cache

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLRUExpiry(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](10, time.Minute).WithClock(clk.now)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	clk.advance(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry should be removed on read")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache[string](2, time.Hour)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Fatalf("least recently used entry should be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("recently used entry should survive")
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func TestDeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Hour)
	c.Set("u1|range=all", 1)
	c.Set("u1|range=30", 2)
	c.Set("u10|range=all", 3)
	c.Set("u2|range=all", 4)

	if n := c.DeletePrefix("u1|"); n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	if _, ok := c.Get("u10|range=all"); !ok {
		t.Fatalf("prefix delete must not touch other users")
	}
	if c.Size() != 2 {
		t.Fatalf("expected 2 entries left, got %d", c.Size())
	}
}

func TestManagerSweep(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewLRUCache[int](10, time.Minute).WithClock(clk.now)
	b := NewLRUCache[int](10, time.Hour).WithClock(clk.now)
	a.Set("x", 1)
	b.Set("y", 2)

	m := NewManager(nil)
	m.Register(a)
	m.Register(b)
	clk.advance(5 * time.Minute)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected 1 expired entry, got %d", n)
	}
	if b.Size() != 1 {
		t.Fatalf("fresh cache should keep its entry")
	}

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}
