// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"fmt"
	"log"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

// Debug gates the package's trace logging. It is off by default; set it
// (directly, or via dynarm.DebugFromEnv) before allocating to see mapping
// and protection-switch activity on stderr.
var Debug = false

// logger writes to stderr; every call site is gated on Debug.
var logger = log.New(os.Stderr, "buffer: ", log.Lshortfile)

// ExecAllocator owns the platform machinery for obtaining anonymous,
// protection-switchable memory. The production implementation, mmapAllocator,
// is backed by mmap-go for the mapping itself and raw x/sys/unix calls for
// the protection toggles mmap-go has no notion of. Tests substitute a fake
// that tracks calls instead of touching real page tables.
type ExecAllocator interface {
	// Allocate returns size bytes of anonymous memory, initially writable
	// and not executable.
	Allocate(size int) (mmap.MMap, error)
	// Protect switches mem between writable-only and executable-only. It
	// never returns with mem simultaneously writable and executable.
	Protect(mem mmap.MMap, executable bool) error
	// Release returns mem's backing memory to the system.
	Release(mem mmap.MMap) error
}

// mmapAllocator is the default ExecAllocator, used outside of tests.
type mmapAllocator struct{}

// NewMMapAllocator returns the production ExecAllocator.
func NewMMapAllocator() ExecAllocator { return mmapAllocator{} }

func (mmapAllocator) Allocate(size int) (mmap.MMap, error) {
	if size < MinPageSize {
		size = MinPageSize
	}
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("buffer: mmap %d bytes: %w", size, err)
	}
	if Debug {
		logger.Printf("mapped %d bytes at %p", size, m)
	}
	return m, nil
}

func (mmapAllocator) Protect(mem mmap.MMap, executable bool) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if executable {
		prot = unix.PROT_READ | unix.PROT_EXEC
	}
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Mprotect(mem, prot); err != nil {
		return fmt.Errorf("buffer: mprotect executable=%v: %w", executable, err)
	}
	if executable {
		flushInstructionCache(mem)
	}
	if Debug {
		logger.Printf("protected %d bytes at %p, executable=%v", len(mem), mem, executable)
	}
	return nil
}

func (mmapAllocator) Release(mem mmap.MMap) error {
	if len(mem) == 0 {
		return nil
	}
	return mem.Unmap()
}
