// Package pagedvec implements an append-only, random-access sequence of
// fixed-size records. Writes are buffered in memory a page at a time; once a
// page fills it spills to a temporary backing file and is evicted from
// residency under a bounded page cache. Reads that miss the write buffer and
// the resident set fault the owning page back in from the backing file.
//
// The type is generic over any plain-old-data record type T; callers must
// not use pointer- or slice-typed fields in T since records are copied by
// raw byte layout.
package pagedvec

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sync/semaphore"
)

// ErrOutOfRange is returned by Get/GetRange when an index lies outside
// [0, Len()).
var ErrOutOfRange = fmt.Errorf("pagedvec: index out of range")

const (
	defaultPageBytes   = 1 << 20
	defaultMaxResident  = 64
)

// Logger is the minimal structured-logging surface pagedvec needs; it is
// satisfied by *logrus.Logger and *logrus.Entry.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}

type backing interface {
	Pread(p []byte, off int64) (int, error)
	Pwrite(p []byte, off int64) (int, error)
	Close() error
}

type page struct {
	index uint64
	data  []byte
}

// PagedVector is an append-only vector of fixed-size records of type T.
type PagedVector[T any] struct {
	backing   backing
	elemSize  int
	pageElems int
	pageBytes int

	length       uint64
	writeBuf     []byte
	writeLen     int
	flushedPages uint64

	resident    map[uint64]*page
	lru         []uint64
	sem         *semaphore.Weighted
	maxResident int

	log Logger
}

// New creates an empty PagedVector backed by a fresh temporary file, using
// the default page size (1 MiB) and resident page budget.
func New[T any](name string) (*PagedVector[T], error) {
	return NewSize[T](name, defaultPageBytes, defaultMaxResident)
}

// NewSize is New with an explicit page size (bytes) and resident page
// budget, mainly for tests that want to exercise page faults without
// allocating a gigabyte of fixtures.
func NewSize[T any](name string, pageBytes, maxResident int) (*PagedVector[T], error) {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if elemSize == 0 {
		elemSize = 1
	}
	b, err := openBacking(name)
	if err != nil {
		return nil, fmt.Errorf("pagedvec: open backing store for %q: %w", name, err)
	}
	pageElems := pageBytes / elemSize
	if pageElems < 1 {
		pageElems = 1
	}
	if maxResident < 1 {
		maxResident = 1
	}
	return &PagedVector[T]{
		backing:     b,
		elemSize:    elemSize,
		pageElems:   pageElems,
		pageBytes:   pageElems * elemSize,
		writeBuf:    make([]byte, pageElems*elemSize),
		resident:    make(map[uint64]*page),
		sem:         semaphore.NewWeighted(int64(maxResident)),
		maxResident: maxResident,
		log:         nopLogger{},
	}, nil
}

// SetLogger installs a structured logger for page-spill diagnostics.
func (v *PagedVector[T]) SetLogger(l Logger) {
	if l != nil {
		v.log = l
	}
}

// Len returns the number of records pushed so far.
func (v *PagedVector[T]) Len() uint64 { return v.length }

// SizeInBytes reports the on-disk-plus-buffered footprint of the vector.
func (v *PagedVector[T]) SizeInBytes() int64 {
	return int64(v.flushedPages)*int64(v.pageBytes) + int64(v.writeLen)
}

// Push appends a record to the vector.
func (v *PagedVector[T]) Push(rec T) error {
	b := v.recordBytes(&rec)
	copy(v.writeBuf[v.writeLen:], b)
	v.writeLen += v.elemSize
	v.length++
	if v.writeLen == len(v.writeBuf) {
		return v.flush()
	}
	return nil
}

func (v *PagedVector[T]) flush() error {
	if v.writeLen == 0 {
		return nil
	}
	off := int64(v.flushedPages) * int64(v.pageBytes)
	if _, err := v.backing.Pwrite(v.writeBuf[:v.writeLen], off); err != nil {
		return fmt.Errorf("pagedvec: flush page %d: %w", v.flushedPages, err)
	}
	v.log.Debugf("pagedvec: spilled page %d (%d bytes) to disk", v.flushedPages, v.writeLen)
	v.flushedPages++
	v.writeLen = 0
	return nil
}

// Get returns the record at logical index i.
func (v *PagedVector[T]) Get(i uint64) (T, error) {
	var zero T
	if i >= v.length {
		return zero, ErrOutOfRange
	}
	pageIdx := i / uint64(v.pageElems)
	offset := int(i%uint64(v.pageElems)) * v.elemSize
	buf, err := v.page(pageIdx)
	if err != nil {
		return zero, err
	}
	var rec T
	copy(v.recordBytes(&rec), buf[offset:offset+v.elemSize])
	return rec, nil
}

// GetRange returns records [lo, hi) as a freshly allocated slice.
func (v *PagedVector[T]) GetRange(lo, hi uint64) ([]T, error) {
	if hi < lo || hi > v.length {
		return nil, ErrOutOfRange
	}
	out := make([]T, 0, hi-lo)
	for i := lo; i < hi; i++ {
		rec, err := v.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close releases the backing temporary file.
func (v *PagedVector[T]) Close() error {
	return v.backing.Close()
}

func (v *PagedVector[T]) recordBytes(rec *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(rec)), v.elemSize)
}

// page returns the elemSize-aligned byte buffer backing page pageIdx,
// faulting it in from disk if necessary. The still-open write page (the
// highest-numbered page, not yet flushed) is served directly from writeBuf.
func (v *PagedVector[T]) page(pageIdx uint64) ([]byte, error) {
	if pageIdx == v.flushedPages {
		return v.writeBuf, nil
	}
	if p, ok := v.resident[pageIdx]; ok {
		v.touch(pageIdx)
		return p.data, nil
	}
	for len(v.resident) >= v.maxResident {
		v.evictOldest()
	}
	if err := v.sem.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	data := make([]byte, v.pageBytes)
	if _, err := v.backing.Pread(data, int64(pageIdx)*int64(v.pageBytes)); err != nil {
		v.sem.Release(1)
		return nil, fmt.Errorf("pagedvec: read page %d: %w", pageIdx, err)
	}
	v.resident[pageIdx] = &page{index: pageIdx, data: data}
	v.lru = append(v.lru, pageIdx)
	return data, nil
}

func (v *PagedVector[T]) touch(pageIdx uint64) {
	for i, idx := range v.lru {
		if idx == pageIdx {
			v.lru = append(v.lru[:i], v.lru[i+1:]...)
			break
		}
	}
	v.lru = append(v.lru, pageIdx)
}

func (v *PagedVector[T]) evictOldest() {
	if len(v.lru) == 0 {
		return
	}
	oldest := v.lru[0]
	v.lru = v.lru[1:]
	delete(v.resident, oldest)
	v.sem.Release(1)
}
