package vm

import (
	"fmt"

	"github.com/kkestell/quartz/pkg/bytecode"
)

// MaxBlockSize bounds a single allocation.
const MaxBlockSize = 1 << 24

// Heap is an arena of fixed-length blocks addressed by index. Freed
// addresses go on a free list and are reused most-recently-freed first.
// There is no collector: blocks live until freed.
type Heap struct {
	blocks   [][]bytecode.Value // nil marks a freed address
	freeList []int
}

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{}
}

// Alloc returns the address of a new block of size nil values.
func (h *Heap) Alloc(size int) (int, error) {
	if size < 0 || size > MaxBlockSize {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	// Non-nil even when size is 0, so the block reads as live.
	block := make([]bytecode.Value, size)

	if n := len(h.freeList); n > 0 {
		addr := h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.blocks[addr] = block
		return addr, nil
	}
	h.blocks = append(h.blocks, block)
	return len(h.blocks) - 1, nil
}

func (h *Heap) block(addr int) ([]bytecode.Value, error) {
	if addr < 0 || addr >= len(h.blocks) || h.blocks[addr] == nil {
		return nil, fmt.Errorf("%w: @%d", ErrInvalidAddress, addr)
	}
	return h.blocks[addr], nil
}

// Load reads cell idx of the block at addr.
func (h *Heap) Load(addr, idx int) (bytecode.Value, error) {
	b, err := h.block(addr)
	if err != nil {
		return bytecode.Nil, err
	}
	if idx < 0 || idx >= len(b) {
		return bytecode.Nil, fmt.Errorf("%w: index %d of block @%d (size %d)", ErrOutOfBounds, idx, addr, len(b))
	}
	return b[idx], nil
}

// Store writes cell idx of the block at addr.
func (h *Heap) Store(addr, idx int, v bytecode.Value) error {
	b, err := h.block(addr)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(b) {
		return fmt.Errorf("%w: index %d of block @%d (size %d)", ErrOutOfBounds, idx, addr, len(b))
	}
	b[idx] = v
	return nil
}

// Free releases the block at addr and makes the address reusable.
func (h *Heap) Free(addr int) error {
	if _, err := h.block(addr); err != nil {
		return err
	}
	h.blocks[addr] = nil
	h.freeList = append(h.freeList, addr)
	return nil
}

// IsLive reports whether addr names an allocated block.
func (h *Heap) IsLive(addr int) bool {
	return addr >= 0 && addr < len(h.blocks) && h.blocks[addr] != nil
}

// Len returns the number of addresses ever handed out.
func (h *Heap) Len() int { return len(h.blocks) }

// Block returns a copy of the block at addr.
func (h *Heap) Block(addr int) ([]bytecode.Value, bool) {
	if !h.IsLive(addr) {
		return nil, false
	}
	return append([]bytecode.Value{}, h.blocks[addr]...), true
}

// FreeList returns the reusable addresses, next to be reused last.
func (h *Heap) FreeList() []int {
	return append([]int(nil), h.freeList...)
}
