package native

import "testing"

func TestEmitReturnsDistinctAddresses(t *testing.T) {
	a := NewAllocator()
	defer a.Close()

	addr1, err := a.Emit([]byte{0xC3})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	addr2, err := a.Emit([]byte{0xC3, 0xC3})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if addr1 == addr2 {
		t.Errorf("expected distinct addresses for two Emit calls, got %x twice", addr1)
	}
}

func TestEmitRejectsEmptyCode(t *testing.T) {
	a := NewAllocator()
	defer a.Close()
	if _, err := a.Emit(nil); err == nil {
		t.Errorf("expected an error emitting zero bytes")
	}
}

func TestEmitSpansMultipleChunks(t *testing.T) {
	a := NewAllocator()
	defer a.Close()

	big := make([]byte, chunkSize)
	for i := range big {
		big[i] = 0x90
	}
	if _, err := a.Emit(big); err != nil {
		t.Fatalf("Emit large block: %v", err)
	}
	if _, err := a.Emit([]byte{0xC3}); err != nil {
		t.Fatalf("Emit after filling a chunk: %v", err)
	}
	if len(a.chunks) < 2 {
		t.Errorf("expected a second chunk to be allocated once the first filled up, got %d chunks", len(a.chunks))
	}
}

func TestFreezeAllMarksExistingChunks(t *testing.T) {
	a := NewAllocator()
	defer a.Close()
	if _, err := a.Emit([]byte{0xC3}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	a.FreezeAll()
	if a.chunks[0].frozen != a.chunks[0].cursor {
		t.Errorf("expected FreezeAll to set frozen = cursor, got frozen=%d cursor=%d", a.chunks[0].frozen, a.chunks[0].cursor)
	}
}
