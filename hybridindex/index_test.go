package hybridindex

import "testing"

func mustNew(t *testing.T, width uint8) *Index {
	t.Helper()
	idx, err := New(width)
	if err != nil {
		t.Fatalf("New(%d): %v", width, err)
	}
	return idx
}

func TestRunCompression(t *testing.T) {
	idx := mustNew(t, 2)
	defer idx.Close()

	// A long constant-stride run should compress to a single block.
	for i := uint64(0); i < 10000; i++ {
		if err := idx.Push(i * 4); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if idx.Len() != 10000 {
		t.Fatalf("Len() = %d, want 10000", idx.Len())
	}
	if idx.EntryCount() != 1 {
		t.Fatalf("EntryCount() = %d, want 1 for a pure arithmetic run", idx.EntryCount())
	}
	for i := uint64(0); i < 10000; i += 137 {
		got, err := idx.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if got != i*4 {
			t.Fatalf("Get(%d) = %d, want %d", i, got, i*4)
		}
	}
}

func TestIrregularSequence(t *testing.T) {
	idx := mustNew(t, 1)
	defer idx.Close()

	values := []uint64{0, 1, 3, 3, 3, 10, 20, 30, 31, 32, 1000}
	for _, v := range values {
		if err := idx.Push(v); err != nil {
			t.Fatalf("Push(%d): %v", v, err)
		}
	}
	for i, want := range values {
		got, err := idx.Get(uint64(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if got != want {
			t.Fatalf("Get(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestGetRangeMatchesGet(t *testing.T) {
	idx := mustNew(t, 2)
	defer idx.Close()

	values := []uint64{0, 2, 4, 6, 8, 8, 8, 9, 19, 29, 29, 29, 29, 100}
	for _, v := range values {
		if err := idx.Push(v); err != nil {
			t.Fatalf("Push(%d): %v", v, err)
		}
	}
	got, err := idx.GetRange(2, 10)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	for i, v := range got {
		want := values[2+i]
		if v != want {
			t.Fatalf("GetRange[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestNonMonotonePushIsBadIndex(t *testing.T) {
	idx := mustNew(t, 1)
	defer idx.Close()

	if err := idx.Push(5); err != nil {
		t.Fatalf("Push(5): %v", err)
	}
	err := idx.Push(4)
	if err == nil {
		t.Fatal("Push(4) after Push(5) should fail")
	}
	if _, ok := err.(*ErrBadIndex); !ok {
		t.Fatalf("error type = %T, want *ErrBadIndex", err)
	}
}

func TestGetOutOfRange(t *testing.T) {
	idx := mustNew(t, 1)
	defer idx.Close()

	if err := idx.Push(1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := idx.Get(1); err == nil {
		t.Fatal("Get(1) with len=1 should fail")
	}
}

func TestLargeStrideClosesRun(t *testing.T) {
	idx := mustNew(t, 4)
	defer idx.Close()

	if err := idx.Push(0); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := idx.Push(1000); err != nil { // delta 1000 > 255, must close as singleton
		t.Fatalf("Push: %v", err)
	}
	if err := idx.Push(2000); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if idx.EntryCount() != 3 {
		t.Fatalf("EntryCount() = %d, want 3 (singletons 0 and 1000, open run at 2000)", idx.EntryCount())
	}
	got, err := idx.GetRange(0, 3)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	want := []uint64{0, 1000, 2000}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEntryCountAcrossPageSpill(t *testing.T) {
	idx := mustNew(t, 1)
	defer idx.Close()

	// Each push with a varying stride forces a new block; push enough
	// blocks to force the backing pagedvec to spill at least one page.
	v := uint64(0)
	for i := 0; i < 5000; i++ {
		v += uint64(i%5) + 1
		if err := idx.Push(v); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if idx.EntryCount() > idx.Len() {
		t.Fatalf("EntryCount() = %d should never exceed Len() = %d", idx.EntryCount(), idx.Len())
	}
}
