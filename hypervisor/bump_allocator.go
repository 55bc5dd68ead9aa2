package hypervisor

import "fmt"

// BumpAllocator is a minimal Allocator over a single pre-reserved host
// memory slab. It is not the buddy-style page allocator spec.md §1
// declares out of scope (memory_allocator.rs, ~23 KB of boundary-tag
// free-list logic) — it exists only so tests and the cmd/minivisor host
// process have a concrete Allocator to hand to stage2.New and the VM
// constructor without pulling in that collaborator's full
// implementation. FreePages is a no-op: this allocator never reclaims,
// which is acceptable for its only two callers (bootstrap-time stage-2
// root/table allocation and test fixtures).
type BumpAllocator struct {
	base uint64
	size uint64
	next uint64
}

// NewBumpAllocator reserves [base, base+size) as the memory this
// allocator hands out, page by page.
func NewBumpAllocator(base, size uint64) *BumpAllocator {
	return &BumpAllocator{base: base, size: size, next: base}
}

func (a *BumpAllocator) AllocatePages(count int, alignOrder uint) (uint64, error) {
	align := uint64(1) << alignOrder
	start := (a.next + align - 1) &^ (align - 1)
	length := uint64(count) * PageSize
	if start+length > a.base+a.size {
		return 0, fmt.Errorf("hypervisor: bump allocator exhausted (requested %d pages)", count)
	}
	a.next = start + length
	return start, nil
}

func (a *BumpAllocator) FreePages(uint64, int) {}

var _ Allocator = (*BumpAllocator)(nil)
