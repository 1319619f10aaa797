// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buffer implements the protection-swapping page allocator and
// staging buffer that back a dynamic assembler: a growable byte vector
// ("staging") that is promoted, on commit, into a shared, executable
// region guarded by a readers-writer lock. The committed region is never
// observed simultaneously writable and executable from outside a commit
// or alter critical section.
package buffer

import (
	"fmt"
	"sync"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
)

// MinPageSize is the smallest page size on AArch64, and the size of the
// first executable region a BaseAssembler allocates.
const MinPageSize = 4096

// BaseAssembler owns the staging buffer and the committed executable
// region. Absolute offsets below committed refer into the executable
// region; offsets at or above it refer into the staging buffer.
type BaseAssembler struct {
	mu sync.RWMutex

	mem       mmap.MMap // committed backing memory; len(mem) is its capacity
	committed int       // asmoffset: bytes of mem holding committed code
	ops       []byte    // staging buffer, not yet committed

	alloc ExecAllocator
}

// New allocates the initial executable region through alloc.
func New(alloc ExecAllocator) (*BaseAssembler, error) {
	mem, err := alloc.Allocate(MinPageSize)
	if err != nil {
		return nil, err
	}
	if err := alloc.Protect(mem, true); err != nil {
		return nil, fmt.Errorf("buffer: initial protect: %w", err)
	}
	return &BaseAssembler{mem: mem, alloc: alloc}, nil
}

// Offset returns the current absolute offset: committed bytes plus
// however many bytes are staged.
func (b *BaseAssembler) Offset() int {
	return b.committed + len(b.ops)
}

// Asmoffset returns the offset at which the staging area begins, i.e.
// the number of bytes already committed.
func (b *BaseAssembler) Asmoffset() int {
	return b.committed
}

// Push appends one byte to the staging buffer.
func (b *BaseAssembler) Push(v byte) {
	b.ops = append(b.ops, v)
}

// Extend appends bs to the staging buffer.
func (b *BaseAssembler) Extend(bs []byte) {
	b.ops = append(b.ops, bs...)
}

// Align appends fill bytes until the offset is a multiple of n.
func (b *BaseAssembler) Align(n int, fill byte) {
	for b.Offset()%n != 0 {
		b.Push(fill)
	}
}

// StagingBytes returns the sub-slice of the (not yet committed) staging
// buffer spanning [absOffset, absOffset+size), for the encoder to patch
// in place before commit.
func (b *BaseAssembler) StagingBytes(absOffset, size int) []byte {
	local := absOffset - b.committed
	return b.ops[local : local+size]
}

// Commit promotes the staged bytes into the committed executable region,
// growing the backing allocation (allocate-new, copy, swap) if it doesn't
// fit. fixup, if non-nil, is invoked with the old and new base addresses
// and the new committed length after the staged bytes have been appended
// but before the region is re-protected executable, so a caller can fix
// up absolute pointers held in external metadata.
func (b *BaseAssembler) Commit(fixup func(oldAddr, newAddr uintptr, newLen int)) error {
	if len(b.ops) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	needed := b.committed + len(b.ops)
	mem := b.mem
	oldAddr := addrOf(mem)
	grew := false

	if needed > len(mem) {
		newSize := len(mem)
		if newSize == 0 {
			newSize = MinPageSize
		}
		for newSize < needed {
			newSize *= 2
		}
		newMem, err := b.alloc.Allocate(newSize)
		if err != nil {
			return fmt.Errorf("buffer: commit: grow: %w", err)
		}
		copy(newMem, mem[:b.committed])
		mem, grew = newMem, true
	} else if len(mem) > 0 {
		if err := b.alloc.Protect(mem, false); err != nil {
			return fmt.Errorf("buffer: commit: remap writable: %w", err)
		}
	}

	copy(mem[b.committed:needed], b.ops)

	if fixup != nil {
		fixup(oldAddr, addrOf(mem), needed)
	}

	if err := b.alloc.Protect(mem, true); err != nil {
		// The invariants of this type cannot be safely re-established
		// after a partial remap, so this is unrecoverable.
		panic(fmt.Sprintf("buffer: commit: remap executable: %v", err))
	}

	if grew && len(b.mem) > 0 {
		_ = b.alloc.Release(b.mem)
	}

	b.mem = mem
	b.committed = needed
	b.ops = b.ops[:0]
	return nil
}

// Reader acquires a shared lock over the committed region and returns a
// view of it. The caller must call Close when done.
func (b *BaseAssembler) Reader() Executor {
	b.mu.RLock()
	return Executor{base: b}
}

// Finalize returns sole ownership of the committed region's backing
// memory if no reader currently holds it, or ok=false otherwise.
func (b *BaseAssembler) Finalize() (mem mmap.MMap, ok bool) {
	if !b.mu.TryLock() {
		return nil, false
	}
	defer b.mu.Unlock()
	return b.mem[:b.committed], true
}

// BeginAlter acquires the exclusive lock, remaps the committed region
// writable, and returns a handle for editing it in place. The caller must
// call End on the returned buffer to restore execute protection and
// release the lock.
func (b *BaseAssembler) BeginAlter() (*MutableBuffer, error) {
	b.mu.Lock()
	if err := b.alloc.Protect(b.mem, false); err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("buffer: alter: remap writable: %w", err)
	}
	return &MutableBuffer{base: b}, nil
}

// Executor is a shared, read-only view of the committed executable
// region. Multiple Executors may coexist; each blocks Commit/Finalize
// until closed.
type Executor struct {
	base *BaseAssembler
}

// Bytes returns the committed code.
func (e Executor) Bytes() []byte {
	return e.base.mem[:e.base.committed]
}

// Base returns the address of the first byte of the committed region.
func (e Executor) Base() uintptr {
	return addrOf(e.base.mem)
}

// Close releases the shared lock.
func (e Executor) Close() {
	e.base.mu.RUnlock()
}

// MutableBuffer is a writable view over the already-committed region,
// obtained from BeginAlter. It exists only for the duration of a single
// Assembler.Alter call.
type MutableBuffer struct {
	base *BaseAssembler
}

// Bytes returns the full committed region, writable.
func (m *MutableBuffer) Bytes() []byte {
	return m.base.mem[:m.base.committed]
}

// Base returns the address of the first byte of the region.
func (m *MutableBuffer) Base() uintptr {
	return addrOf(m.base.mem)
}

// End restores execute protection over the region and releases the
// exclusive lock acquired by BeginAlter.
func (m *MutableBuffer) End() {
	defer m.base.mu.Unlock()
	if err := m.base.alloc.Protect(m.base.mem, true); err != nil {
		panic(fmt.Sprintf("buffer: alter: remap executable: %v", err))
	}
}

func addrOf(mem mmap.MMap) uintptr {
	if len(mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&mem[0]))
}
