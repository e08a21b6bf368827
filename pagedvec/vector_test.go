package pagedvec

import "testing"

func TestPushAndGet(t *testing.T) {
	v, err := NewSize[uint64]("test", 64, 4) // 8 elems/page
	if err != nil {
		t.Fatalf("NewSize: %v", err)
	}
	defer v.Close()

	const n = 1000
	for i := uint64(0); i < n; i++ {
		if err := v.Push(i * i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if v.Len() != n {
		t.Fatalf("Len() = %d, want %d", v.Len(), n)
	}
	for i := uint64(0); i < n; i++ {
		got, err := v.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if got != i*i {
			t.Fatalf("Get(%d) = %d, want %d", i, got, i*i)
		}
	}
}

func TestGetOutOfRange(t *testing.T) {
	v, err := NewSize[uint64]("test", 64, 4)
	if err != nil {
		t.Fatalf("NewSize: %v", err)
	}
	defer v.Close()

	if err := v.Push(1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := v.Get(1); err != ErrOutOfRange {
		t.Fatalf("Get(1) error = %v, want ErrOutOfRange", err)
	}
}

func TestGetRange(t *testing.T) {
	v, err := NewSize[uint64]("test", 32, 2) // 4 elems/page
	if err != nil {
		t.Fatalf("NewSize: %v", err)
	}
	defer v.Close()

	for i := uint64(0); i < 50; i++ {
		if err := v.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	got, err := v.GetRange(10, 20)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len(got) = %d, want 10", len(got))
	}
	for i, v := range got {
		if v != uint64(10+i) {
			t.Fatalf("got[%d] = %d, want %d", i, v, 10+i)
		}
	}
}

func TestEvictionSurvivesRereads(t *testing.T) {
	// Small resident budget forces eviction well before all pages are
	// touched; re-reading early pages after that must still produce the
	// original values (exercises the page-fault path, not just the
	// write buffer).
	v, err := NewSize[uint64]("test", 16, 2) // 2 elems/page, 2 resident
	if err != nil {
		t.Fatalf("NewSize: %v", err)
	}
	defer v.Close()

	const n = 200
	for i := uint64(0); i < n; i++ {
		if err := v.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	for i := uint64(0); i < n; i++ {
		got, err := v.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if got != i {
			t.Fatalf("Get(%d) = %d, want %d", i, got, i)
		}
	}
}

type triple struct {
	Base   uint64
	Stride uint8
	_      [7]byte // pad to keep the record size stable across platforms
	Count  uint32
}

func TestStructRecords(t *testing.T) {
	v, err := NewSize[triple]("test", 128, 4)
	if err != nil {
		t.Fatalf("NewSize: %v", err)
	}
	defer v.Close()

	in := triple{Base: 42, Stride: 3, Count: 7}
	if err := v.Push(in); err != nil {
		t.Fatalf("Push: %v", err)
	}
	out, err := v.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out != in {
		t.Fatalf("Get(0) = %+v, want %+v", out, in)
	}
}
