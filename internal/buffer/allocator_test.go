// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"testing"

	mmap "github.com/edsrzf/mmap-go"
)

// fakeAllocator tracks calls instead of touching real page tables, so
// buffer tests can run on any GOOS/GOARCH without mmap permissions.
type fakeAllocator struct {
	allocations  int
	protectCalls []bool // one entry per Protect call, true == executable
	released     int
}

func (f *fakeAllocator) Allocate(size int) (mmap.MMap, error) {
	f.allocations++
	return make(mmap.MMap, size), nil
}

func (f *fakeAllocator) Protect(mem mmap.MMap, executable bool) error {
	f.protectCalls = append(f.protectCalls, executable)
	return nil
}

func (f *fakeAllocator) Release(mem mmap.MMap) error {
	f.released++
	return nil
}

func TestMMapAllocatorSmallThenGrow(t *testing.T) {
	a := NewMMapAllocator()
	mem, err := a.Allocate(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(mem) < MinPageSize {
		t.Errorf("Allocate(4) returned %d bytes, want at least MinPageSize", len(mem))
	}
	if err := a.Protect(mem, false); err != nil {
		t.Fatal(err)
	}
	copy(mem, []byte{1, 2, 3, 4})
	if err := a.Protect(mem, true); err != nil {
		t.Fatal(err)
	}
	if err := a.Release(mem); err != nil {
		t.Fatal(err)
	}
}
