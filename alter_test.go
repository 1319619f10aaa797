// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynarm

import (
	"bytes"
	"testing"
)

// TestAlterRoundTrip reproduces scenario 6: commit a 16-byte payload,
// then alter with a modifier that goes to offset 4 and overwrites bytes
// 4..8 with a new word; bytes 0..4 and 8..16 must be unchanged, bytes
// 4..8 must hold the new word, and the region must be executable again
// (readable through a fresh Reader) once Alter returns.
func TestAlterRoundTrip(t *testing.T) {
	a := newTestAssembler(t)
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	a.Extend(payload)
	if err := a.Commit(); err != nil {
		t.Fatal(err)
	}

	newWord := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	err := a.Alter(func(m *Modifier) {
		m.Goto(4)
		if err := m.Check(8); err != nil {
			t.Fatal(err)
		}
		for _, b := range newWord {
			m.Push(b)
		}
		if err := m.CheckExact(8); err != nil {
			t.Fatal(err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	ex := a.Reader()
	defer ex.Close()
	want := append([]byte{}, payload...)
	copy(want[4:8], newWord)
	if !bytes.Equal(ex.Bytes(), want) {
		t.Fatalf("Bytes() = %x, want %x", ex.Bytes(), want)
	}
}

// TestAlterDrainsGlobalRelocAgainstCommittedView exercises a global
// relocation requested from inside a Modifier callback: it must be
// patched into the committed buffer once the modifier closes, not left
// pending.
func TestAlterDrainsGlobalRelocAgainstCommittedView(t *testing.T) {
	a := newTestAssembler(t)
	a.Extend([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	if err := a.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := a.GlobalLabel("target"); err != nil {
		t.Fatal(err)
	}

	err := a.Alter(func(m *Modifier) {
		m.Goto(0)
		m.Push(0)
		m.Push(0)
		m.Push(0)
		m.Push(0)
		m.GlobalReloc("target", B)
	})
	if err != nil {
		t.Fatal(err)
	}

	ex := a.Reader()
	defer ex.Close()
	// "target" was defined (via GlobalLabel) at offset 8, before the
	// Commit inside Alter's preamble ran, so its resolved offset is 8;
	// the reloc site is 0, giving displacement 8/4 = 2.
	if got, want := ex.Bytes()[0], byte(2); got != want {
		t.Fatalf("patched byte = %d, want %d", got, want)
	}
}

func TestCheckFailedError(t *testing.T) {
	a := newTestAssembler(t)
	a.Extend([]byte{0, 0, 0, 0})
	if err := a.Commit(); err != nil {
		t.Fatal(err)
	}

	var checkErr error
	err := a.Alter(func(m *Modifier) {
		m.Push(0)
		checkErr = m.CheckExact(0)
	})
	if err != nil {
		t.Fatal(err)
	}
	if checkErr == nil {
		t.Fatal("expected CheckExact to fail after a push advanced the cursor")
	}
	var cf *CheckFailedError
	if !asCheckFailed(checkErr, &cf) {
		t.Fatalf("expected *CheckFailedError, got %v", checkErr)
	}
}

func asCheckFailed(err error, target **CheckFailedError) bool {
	if cf, ok := err.(*CheckFailedError); ok {
		*target = cf
		return true
	}
	return false
}
