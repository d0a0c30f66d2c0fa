package utils

import (
	"sync"
	"testing"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("ahoj", 10); got != "ahoj" {
		t.Fatalf("expected unchanged string, got %q", got)
	}
	if got := Truncate("příliš dlouhý text", 8); got != "příli..." {
		t.Fatalf("expected rune-aware truncation, got %q", got)
	}
	if got := Truncate("abc", 0); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("user-1")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
	if km.Len() != 0 {
		t.Fatalf("expected lock entries to be released, got %d", km.Len())
	}
}

func TestKeyedMutex_UnlockIsIdempotent(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("k")
	unlock()
	unlock()

	again := km.Lock("k")
	again()
}
