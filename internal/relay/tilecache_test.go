package relay

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestTileCache_SizeNeverExceedsBudget(t *testing.T) {
	t.Parallel()

	const budget = 10_000
	c := NewTileCache(budget)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("standard/%d/%d/0", rng.Intn(5), rng.Intn(40))
		c.Put(key, make([]byte, 1+rng.Intn(3000)))
		if c.Bytes() > budget {
			t.Fatalf("step %d: bytes=%d budget=%d", i, c.Bytes(), budget)
		}
		if i%7 == 0 {
			c.Get(key)
		}
	}
}

func TestTileCache_EvictsOldestFirst(t *testing.T) {
	t.Parallel()

	c := NewTileCache(300)
	c.Put("a", make([]byte, 100))
	c.Put("b", make([]byte, 100))
	c.Put("c", make([]byte, 100))
	c.Put("d", make([]byte, 100))

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry survived")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("%s evicted", k)
		}
	}
	if c.Len() != 3 || c.Bytes() != 300 {
		t.Fatalf("len=%d bytes=%d", c.Len(), c.Bytes())
	}
}

func TestTileCache_ReadRefreshesRecency(t *testing.T) {
	t.Parallel()

	c := NewTileCache(300)
	c.Put("a", make([]byte, 100))
	c.Put("b", make([]byte, 100))
	c.Put("c", make([]byte, 100))

	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing")
	}
	c.Put("big", make([]byte, 200))

	if _, ok := c.Get("a"); !ok {
		t.Fatal("recently read entry evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok := c.Get(k); ok {
			t.Fatalf("%s should have been evicted before a", k)
		}
	}
}

func TestTileCache_ReplaceAndOversize(t *testing.T) {
	t.Parallel()

	c := NewTileCache(100)
	c.Put("a", make([]byte, 60))
	c.Put("a", make([]byte, 40))
	if c.Len() != 1 || c.Bytes() != 40 {
		t.Fatalf("len=%d bytes=%d", c.Len(), c.Bytes())
	}
	if c.Put("huge", make([]byte, 101)) {
		t.Fatal("oversized tile stored")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("oversized put evicted existing entry")
	}
}

func TestTileCache_ResizeAndClear(t *testing.T) {
	t.Parallel()

	c := NewTileCache(300)
	c.Put("a", make([]byte, 100))
	c.Put("b", make([]byte, 100))
	c.Put("c", make([]byte, 100))

	c.Resize(150)
	if c.Len() != 1 || c.Bytes() != 100 {
		t.Fatalf("after resize len=%d bytes=%d", c.Len(), c.Bytes())
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("newest entry evicted on resize")
	}

	c.Clear()
	if c.Len() != 0 || c.Bytes() != 0 {
		t.Fatalf("after clear len=%d bytes=%d", c.Len(), c.Bytes())
	}
}
