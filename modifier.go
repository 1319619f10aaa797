// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynarm

import (
	"fmt"

	"github.com/dynarm/dynarm64/internal/buffer"
	"github.com/dynarm/dynarm64/reloc"
)

// Modifier is the in-place editing surface Assembler.Alter hands to its
// callback. It shares the assembler's label registry and relocation
// tables but writes at an explicit cursor into the already-committed,
// now-writable buffer, rather than appending to staging.
type Modifier struct {
	asm    *Assembler
	buf    *buffer.MutableBuffer
	cursor int
}

// Offset returns the modifier's current cursor.
func (m *Modifier) Offset() AssemblyOffset { return m.cursor }

// Goto sets the cursor.
func (m *Modifier) Goto(offset AssemblyOffset) { m.cursor = offset }

// Check succeeds iff the cursor is at or before offset — a guard against
// overrunning a reserved slot.
func (m *Modifier) Check(offset AssemblyOffset) error {
	if m.cursor > offset {
		return &CheckFailedError{Cursor: m.cursor, Want: offset}
	}
	return nil
}

// CheckExact succeeds iff the cursor is exactly offset.
func (m *Modifier) CheckExact(offset AssemblyOffset) error {
	if m.cursor != offset {
		return &CheckFailedError{Cursor: m.cursor, Want: offset}
	}
	return nil
}

// Push writes b at the cursor and advances it by one.
func (m *Modifier) Push(b byte) {
	m.buf.Bytes()[m.cursor] = b
	m.cursor++
}

// LocalLabel defines name at the cursor, draining and patching every
// pending forward reference to it against the mutable committed view.
func (m *Modifier) LocalLabel(name string) {
	off := m.cursor
	for _, loc := range m.asm.relocs.DrainLocal(name) {
		m.patchCommitted(loc, off)
	}
	m.asm.labels.DefineLocal(name, off)
}

// GlobalLabel defines the unique global label name at the cursor.
func (m *Modifier) GlobalLabel(name string) error {
	return m.asm.labels.DefineGlobal(name, m.cursor)
}

// DynamicLabel defines id at the cursor.
func (m *Modifier) DynamicLabel(id DynamicLabel) error {
	return m.asm.labels.DefineDynamic(id, m.cursor)
}

// GlobalReloc requests a patch of kind at the cursor against name's
// definition, deferred until the modifier closes.
func (m *Modifier) GlobalReloc(name string, kind Kind) {
	m.asm.relocs.AddGlobal(reloc.PatchLoc{EndOffset: m.cursor, Kind: kind}, name)
}

// DynamicReloc requests a patch of kind at the cursor against id's
// definition, deferred until the modifier closes.
func (m *Modifier) DynamicReloc(id DynamicLabel, kind Kind) {
	m.asm.relocs.AddDynamic(reloc.PatchLoc{EndOffset: m.cursor, Kind: kind}, uint32(id))
}

// ForwardReloc requests a patch of kind at the cursor against a local
// label not yet defined. It must be drained by a LocalLabel(name) call
// within this modifier session: drain panics if it is still pending when
// the callback returns.
func (m *Modifier) ForwardReloc(name string, kind Kind) {
	m.asm.relocs.AddForwardLocal(reloc.PatchLoc{EndOffset: m.cursor, Kind: kind}, name)
}

// BackwardReloc patches a reference of kind at the cursor immediately,
// against name's existing definition.
func (m *Modifier) BackwardReloc(name string, kind Kind) {
	off, err := m.asm.labels.ResolveLocal(name)
	if err != nil {
		panic(&UnknownLabelError{Name: name})
	}
	m.patchCommitted(reloc.PatchLoc{EndOffset: m.cursor, Kind: kind}, off)
}

// BareReloc patches a reference of kind at the cursor immediately against
// the caller-supplied absolute target.
func (m *Modifier) BareReloc(target int, kind Kind) {
	m.patchCommitted(reloc.PatchLoc{EndOffset: m.cursor, Kind: kind}, target)
}

func (m *Modifier) patchCommitted(loc reloc.PatchLoc, target int) {
	site := loc.SiteOffset()
	buf := m.buf.Bytes()[site : site+loc.Kind.Size()]
	reloc.Patch(buf, site, loc.Kind, target)
}

// drain patches every global/dynamic relocation accumulated during the
// modifier callback against the mutable committed view. Called by
// Assembler.Alter once the callback returns. An unresolved local
// reference at this point is fatal.
func (m *Modifier) drain() {
	var unknown *UnknownLabelError
	for _, gf := range m.asm.relocs.Global {
		off, err := m.asm.labels.ResolveGlobal(gf.Name)
		if err != nil {
			unknown = &UnknownLabelError{Name: gf.Name}
			continue
		}
		m.patchCommitted(gf.Loc, off)
	}
	for _, df := range m.asm.relocs.Dynamic {
		off, err := m.asm.labels.ResolveDynamic(DynamicLabel(df.ID))
		if err != nil {
			unknown = &UnknownLabelError{Name: fmt.Sprintf("dynamic:%d", df.ID)}
			continue
		}
		m.patchCommitted(df.Loc, off)
	}
	if name := m.asm.relocs.PendingLocalName(); name != "" {
		panic(&UnresolvedLabelError{Name: name})
	}
	if unknown != nil {
		panic(unknown)
	}
	m.asm.relocs.Global = m.asm.relocs.Global[:0]
	m.asm.relocs.Dynamic = m.asm.relocs.Dynamic[:0]
}
