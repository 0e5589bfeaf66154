package graph

import "testing"

func TestInstructionCacheFirstWriterWins(t *testing.T) {
	var collided []uint32
	cache := NewInstructionCache(func(prime uint32, have, got string) {
		collided = append(collided, prime)
	})

	cache.Put(7, "add")
	cache.Put(7, "xor") // collision: distinct non-empty mnemonics on same prime

	if got := cache.Mnemonic(7); got != "add" {
		t.Fatalf("Mnemonic(7) = %q, want %q (first writer should win)", got, "add")
	}
	if len(collided) != 1 || collided[0] != 7 {
		t.Fatalf("collision callback not invoked as expected: %+v", collided)
	}
}

func TestInstructionCacheEmptyMnemonicNoCollision(t *testing.T) {
	called := false
	cache := NewInstructionCache(func(prime uint32, have, got string) { called = true })

	cache.Put(7, "add")
	cache.Put(7, "") // stripped-mnemonic export: must not be treated as a collision

	if called {
		t.Fatalf("empty mnemonic should not trigger a collision callback")
	}
}

func TestInstructionCacheConcurrentWrites(t *testing.T) {
	cache := NewInstructionCache(nil)
	done := make(chan struct{})
	for i := 0; i < 32; i++ {
		go func() {
			cache.Put(42, "mov")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 32; i++ {
		<-done
	}
	if got := cache.Mnemonic(42); got != "mov" {
		t.Fatalf("Mnemonic(42) = %q, want %q", got, "mov")
	}
}
