// Package hybridindex implements an append-only, run-length-compressed
// index over a monotonically non-decreasing sequence of 64-bit values.
//
// USB captures are highly regular: packet offsets grow by a handful of
// constant strides for thousands of packets at a time, transaction starts
// advance by small constant deltas, and so on. Instead of storing one u64
// per logical value, the index detects arithmetic runs (base, stride,
// count) and stores only the run boundaries, spilling completed runs to a
// pagedvec.PagedVector[Block] exactly like the rest of the on-disk model.
package hybridindex

import (
	"fmt"
	"sort"

	"github.com/nodalsys/usbtrace/pagedvec"
)

// ErrBadIndex is raised for programmer errors: a non-monotone push, or a
// Get/GetRange call outside [0, Len()). These never happen on valid input
// and are not meant to be recovered from by callers.
type ErrBadIndex struct {
	msg string
}

func (e *ErrBadIndex) Error() string { return "hybridindex: " + e.msg }

func badIndex(format string, args ...interface{}) error {
	return &ErrBadIndex{msg: fmt.Sprintf(format, args...)}
}

// MaxRun bounds the length of a single compressed run. The original capture
// tool caps run length at 2^32 so that a run's element count fits a u32
// disk field; usbtrace keeps the same cap for on-disk compatibility.
const MaxRun = 1<<32 - 1

// Block is the fixed-size, on-disk representation of one compressed run:
// the logical values base, base+stride, base+2*stride, ..., for Count
// elements.
type Block struct {
	Base   uint64
	Stride uint8
	_      [3]byte // keep Count naturally aligned; disk layout is little-endian raw struct bytes
	Count  uint32
}

// Index is an append-only, run-compressed sequence of non-decreasing u64
// values.
type Index struct {
	elementWidth uint8

	blocks     *pagedvec.PagedVector[Block]
	logicalEnd []uint64 // cumulative logical length through block i (parallel to on-disk blocks)

	length uint64
	last   uint64
	hasAny bool

	// open run, not yet spilled to blocks
	openBase   uint64
	openStride uint8
	openCount  uint32
	openValid  bool
}

// New creates an empty Index. elementWidth is the logical byte width
// (1..=8) of each stored value; it is validated and stored, but affects
// neither storage nor SizeInBytes, which counts Block triples.
func New(elementWidth uint8) (*Index, error) {
	if elementWidth < 1 || elementWidth > 8 {
		return nil, badIndex("invalid element width %d", elementWidth)
	}
	blocks, err := pagedvec.New[Block]("hybridindex")
	if err != nil {
		return nil, fmt.Errorf("hybridindex: %w", err)
	}
	return &Index{
		elementWidth: elementWidth,
		blocks:       blocks,
	}, nil
}

// Len returns the logical number of values pushed.
func (idx *Index) Len() uint64 { return idx.length }

// EntryCount returns the number of stored compressed blocks, including the
// still-open one if non-empty. A low EntryCount relative to Len indicates
// good run compression.
func (idx *Index) EntryCount() uint64 {
	n := idx.blocks.Len()
	if idx.openValid {
		n++
	}
	return n
}

// SizeInBytes reports on-disk-plus-buffered footprint, in terms of the
// fixed-size Block triples actually stored (not the logical element width).
func (idx *Index) SizeInBytes() int64 {
	const blockSize = 16 // Base(8) + Stride(1) + pad(3) + Count(4)
	size := idx.blocks.SizeInBytes()
	if idx.openValid {
		size += blockSize
	}
	return size
}

// Push appends v to the sequence. v must be >= the last pushed value (or
// >= 0 for the first push); violating this is a programmer error.
func (idx *Index) Push(v uint64) error {
	if idx.hasAny && v < idx.last {
		return badIndex("non-monotone push: %d after %d", v, idx.last)
	}

	switch {
	case !idx.openValid:
		idx.openBase = v
		idx.openStride = 0
		idx.openCount = 1
		idx.openValid = true
	case idx.openCount == 1:
		delta := v - idx.openBase
		if delta > 255 {
			if err := idx.closeRun(); err != nil {
				return err
			}
			idx.openBase = v
			idx.openStride = 0
			idx.openCount = 1
			idx.openValid = true
		} else {
			idx.openStride = uint8(delta)
			idx.openCount = 2
		}
	default:
		expected := idx.last + uint64(idx.openStride)
		if v == expected && idx.openCount < MaxRun {
			idx.openCount++
		} else {
			if err := idx.closeRun(); err != nil {
				return err
			}
			idx.openBase = v
			idx.openStride = 0
			idx.openCount = 1
			idx.openValid = true
		}
	}

	idx.last = v
	idx.hasAny = true
	idx.length++
	return nil
}

func (idx *Index) closeRun() error {
	if !idx.openValid {
		return nil
	}
	if err := idx.blocks.Push(Block{Base: idx.openBase, Stride: idx.openStride, Count: idx.openCount}); err != nil {
		return fmt.Errorf("hybridindex: spill block: %w", err)
	}
	end := idx.length
	idx.logicalEnd = append(idx.logicalEnd, end)
	idx.openValid = false
	return nil
}

// Get returns the logical value at index i.
func (idx *Index) Get(i uint64) (uint64, error) {
	if i >= idx.length {
		return 0, badIndex("get(%d) out of range (len=%d)", i, idx.length)
	}
	blockIdx, blockStart, err := idx.locate(i)
	if err != nil {
		return 0, err
	}
	blk, err := idx.blockAt(blockIdx)
	if err != nil {
		return 0, err
	}
	return blk.Base + (i-blockStart)*uint64(blk.Stride), nil
}

// GetRange materializes the logical values in [lo, hi).
func (idx *Index) GetRange(lo, hi uint64) ([]uint64, error) {
	if hi < lo || hi > idx.length {
		return nil, badIndex("get_range(%d..%d) out of range (len=%d)", lo, hi, idx.length)
	}
	out := make([]uint64, 0, hi-lo)
	i := lo
	for i < hi {
		blockIdx, blockStart, err := idx.locate(i)
		if err != nil {
			return nil, err
		}
		blk, err := idx.blockAt(blockIdx)
		if err != nil {
			return nil, err
		}
		blockEnd := idx.blockEnd(blockIdx)
		end := hi
		if blockEnd < end {
			end = blockEnd
		}
		v := blk.Base + (i-blockStart)*uint64(blk.Stride)
		for ; i < end; i++ {
			out = append(out, v)
			v += uint64(blk.Stride)
		}
	}
	return out, nil
}

// locate finds the block containing logical index i and that block's
// starting logical offset, via binary search over the cumulative end
// offsets of spilled blocks, falling back to the still-open run.
func (idx *Index) locate(i uint64) (blockIdx int, blockStart uint64, err error) {
	n := len(idx.logicalEnd)
	pos := sort.Search(n, func(k int) bool { return idx.logicalEnd[k] > i })
	if pos < n {
		start := uint64(0)
		if pos > 0 {
			start = idx.logicalEnd[pos-1]
		}
		return pos, start, nil
	}
	// must be in the open run
	start := uint64(0)
	if n > 0 {
		start = idx.logicalEnd[n-1]
	}
	if idx.openValid && i >= start && i < idx.length {
		return n, start, nil
	}
	return 0, 0, badIndex("locate(%d) fell outside all blocks", i)
}

func (idx *Index) blockEnd(blockIdx int) uint64 {
	if blockIdx < len(idx.logicalEnd) {
		return idx.logicalEnd[blockIdx]
	}
	return idx.length
}

// blockAt returns block blockIdx, whether it is already spilled or still
// open in RAM.
func (idx *Index) blockAt(blockIdx int) (Block, error) {
	if blockIdx < int(idx.blocks.Len()) {
		blk, err := idx.blocks.Get(uint64(blockIdx))
		if err != nil {
			return Block{}, fmt.Errorf("hybridindex: %w", err)
		}
		return blk, nil
	}
	if idx.openValid && blockIdx == int(idx.blocks.Len()) {
		return Block{Base: idx.openBase, Stride: idx.openStride, Count: idx.openCount}, nil
	}
	return Block{}, badIndex("block %d does not exist", blockIdx)
}

// Close releases the backing paged vector.
func (idx *Index) Close() error { return idx.blocks.Close() }
