package buffer

import (
	"sync"
	"testing"
)

func TestWriteReadOrder(t *testing.T) {
	r, err := NewRing[int](4)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if !r.Write(i) {
			t.Fatalf("Write(%d) rejected", i)
		}
	}
	for want := 1; want <= 3; want++ {
		got, ok := r.Read()
		if !ok || got != want {
			t.Fatalf("Read() = %d, %v; want %d", got, ok, want)
		}
	}
	if _, ok := r.Read(); ok {
		t.Fatal("Read() on empty ring returned ok")
	}
}

func TestDropOldestOverwrites(t *testing.T) {
	var dropped []int
	r, err := NewRing(2, WithDropCallback(func(item int) {
		dropped = append(dropped, item)
	}))
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}

	r.Write(1)
	r.Write(2)
	r.Write(3)

	if got := r.Snapshot(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("Snapshot() = %v, want [2 3]", got)
	}
	if len(dropped) != 1 || dropped[0] != 1 {
		t.Fatalf("dropped = %v, want [1]", dropped)
	}
}

func TestDropNewestRejects(t *testing.T) {
	r, err := NewRing(2, WithOverflowPolicy[int](DropNewest))
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}

	r.Write(1)
	r.Write(2)
	if r.Write(3) {
		t.Fatal("Write on full DropNewest ring accepted")
	}
	if got := r.Snapshot(); got[0] != 1 || got[1] != 2 {
		t.Fatalf("Snapshot() = %v, want [1 2]", got)
	}
}

func TestInvalidCapacity(t *testing.T) {
	if _, err := NewRing[int](0); err == nil {
		t.Fatal("NewRing(0) succeeded")
	}
}

func TestClearAndStats(t *testing.T) {
	r, _ := NewRing[string](4)
	r.Write("a")
	r.Write("b")
	r.Read()
	r.Clear()

	if r.Size() != 0 {
		t.Fatalf("Size() = %d after Clear", r.Size())
	}
	stats := r.Stats()
	if stats.Writes != 2 || stats.Reads != 1 || stats.Size != 0 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestConcurrentWrites(t *testing.T) {
	r, _ := NewRing[int](64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Write(g*100 + i)
			}
		}(g)
	}
	wg.Wait()

	if r.Size() != 64 {
		t.Fatalf("Size() = %d, want 64", r.Size())
	}
	if r.Stats().Writes != 800 {
		t.Fatalf("Writes = %d, want 800", r.Stats().Writes)
	}
}
