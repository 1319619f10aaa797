// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"bytes"
	"testing"
)

func newTestAssembler(t *testing.T) (*BaseAssembler, *fakeAllocator) {
	t.Helper()
	fa := &fakeAllocator{}
	b, err := New(fa)
	if err != nil {
		t.Fatal(err)
	}
	return b, fa
}

func TestPushAlignOffset(t *testing.T) {
	b, _ := newTestAssembler(t)
	b.Push(1)
	b.Push(2)
	if got, want := b.Offset(), 2; got != want {
		t.Fatalf("Offset() = %d, want %d", got, want)
	}
	b.Align(4, 0xCC)
	if got, want := b.Offset(), 4; got != want {
		t.Fatalf("Offset() after Align = %d, want %d", got, want)
	}
	if got, want := b.ops, []byte{1, 2, 0xCC, 0xCC}; !bytes.Equal(got, want) {
		t.Fatalf("ops = %x, want %x", got, want)
	}
}

func TestCommitPromotesStagingAndClearsIt(t *testing.T) {
	b, fa := newTestAssembler(t)
	b.Extend([]byte{0xAA, 0xBB, 0xCC, 0xDD})

	var gotOld, gotNew uintptr
	var gotLen int
	if err := b.Commit(func(old, new_ uintptr, newLen int) {
		gotOld, gotNew, gotLen = old, new_, newLen
	}); err != nil {
		t.Fatal(err)
	}

	if len(b.ops) != 0 {
		t.Fatalf("ops not cleared after commit: %x", b.ops)
	}
	if b.committed != 4 {
		t.Fatalf("committed = %d, want 4", b.committed)
	}
	if gotLen != 4 {
		t.Fatalf("fixup newLen = %d, want 4", gotLen)
	}
	if gotOld != gotNew {
		t.Fatalf("fixup addrs should be unchanged when no growth occurs: old=%v new=%v", gotOld, gotNew)
	}
	// Commit makes two Protect calls: writable (the fresh region starts out
	// executable, so it must be remapped writable first), then executable.
	if len(fa.protectCalls) == 0 || fa.protectCalls[len(fa.protectCalls)-1] != true {
		t.Fatalf("final Protect call should re-execute-protect, got %v", fa.protectCalls)
	}

	ex := b.Reader()
	defer ex.Close()
	if !bytes.Equal(ex.Bytes(), []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Fatalf("committed bytes = %x", ex.Bytes())
	}
}

func TestCommitGrowthPreservesContent(t *testing.T) {
	b, fa := newTestAssembler(t)
	b.Extend(bytes.Repeat([]byte{0x11}, 10))
	if err := b.Commit(nil); err != nil {
		t.Fatal(err)
	}

	before := fa.allocations
	big := bytes.Repeat([]byte{0x22}, MinPageSize*2)
	b.Extend(big)
	if err := b.Commit(nil); err != nil {
		t.Fatal(err)
	}
	if fa.allocations <= before {
		t.Fatalf("expected growth to allocate a new region, allocations before=%d after=%d", before, fa.allocations)
	}

	ex := b.Reader()
	defer ex.Close()
	want := append(bytes.Repeat([]byte{0x11}, 10), big...)
	if !bytes.Equal(ex.Bytes(), want) {
		t.Fatalf("growth did not preserve content")
	}
}

func TestFinalizeFailsWithLiveReader(t *testing.T) {
	b, _ := newTestAssembler(t)
	b.Push(1)
	if err := b.Commit(nil); err != nil {
		t.Fatal(err)
	}

	ex := b.Reader()
	if _, ok := b.Finalize(); ok {
		t.Fatal("Finalize should fail while a reader is live")
	}
	ex.Close()

	if _, ok := b.Finalize(); !ok {
		t.Fatal("Finalize should succeed once the reader is closed")
	}
}

func TestAlterOverwritesInPlace(t *testing.T) {
	b, _ := newTestAssembler(t)
	b.Extend([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	if err := b.Commit(nil); err != nil {
		t.Fatal(err)
	}

	mb, err := b.BeginAlter()
	if err != nil {
		t.Fatal(err)
	}
	copy(mb.Bytes()[4:8], []byte{9, 9, 9, 9})
	mb.End()

	ex := b.Reader()
	defer ex.Close()
	want := []byte{0, 1, 2, 3, 9, 9, 9, 9}
	if !bytes.Equal(ex.Bytes(), want) {
		t.Fatalf("Bytes() = %x, want %x", ex.Bytes(), want)
	}
}
