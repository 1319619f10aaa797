// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dynarm implements the runtime core of a dynamic AArch64
// assembler: a relocation/buffer-management engine that lets a macro
// layer emit instructions into a growable staging buffer, resolve labels
// and relocations against it, and commit the result into a W^X-protected
// executable region.
//
// This package does not select instructions or allocate registers; it
// only manages bytes, labels and relocations. Callers are expected to
// emit correctly-shaped AArch64 instruction words themselves (typically
// through generated macros) and use this package to patch the
// PC-relative or page-relative fields once their targets are known.
package dynarm

import (
	"fmt"

	"github.com/dynarm/dynarm64/internal/buffer"
	"github.com/dynarm/dynarm64/labelset"
	"github.com/dynarm/dynarm64/reloc"
)

// AssemblyOffset is a byte offset from the start of the logical assembled
// stream. Monotonically non-decreasing during normal emission; may be
// reset backward only by the in-place modifier via an explicit Goto.
type AssemblyOffset = int

// DynamicLabel is an id minted by Assembler.NewDynamicLabel. It is
// defined at most once.
type DynamicLabel = labelset.DynamicLabel

// Kind is the closed set of seven AArch64 relocation shapes a macro layer
// may request a patch for.
type Kind = reloc.Kind

// The seven relocation kinds, re-exported from package reloc so callers
// need only import this package.
const (
	B         = reloc.B
	BCOND     = reloc.BCOND
	ADR       = reloc.ADR
	ADRP      = reloc.ADRP
	TBZ       = reloc.TBZ
	LITERAL32 = reloc.LITERAL32
	LITERAL64 = reloc.LITERAL64
)

// KindFromTag decodes the 8-bit wire tag a macro layer uses to request a
// relocation kind (§6: 0=B, 1=BCOND, 2=ADR, 3=ADRP, 4=TBZ, 5=LITERAL32,
// 6=LITERAL64). An invalid tag is a programming error on the macro layer's
// part, so this panics with *InvalidRelocationTagError rather than
// returning one.
func KindFromTag(tag byte) Kind {
	k, err := reloc.FromTag(tag)
	if err != nil {
		panic(&InvalidRelocationTagError{Tag: tag})
	}
	return k
}

// Assembler is the façade a macro layer drives: a staging buffer, a label
// registry, and the three pending relocation lists.
type Assembler struct {
	base   *buffer.BaseAssembler
	labels labelset.Registry
	relocs reloc.Table
}

// New allocates the initial executable region through an mmap-backed
// allocator.
func New() (*Assembler, error) {
	return NewWithAllocator(buffer.NewMMapAllocator())
}

// NewWithAllocator allocates the initial executable region through alloc,
// letting tests substitute a fake allocator.
func NewWithAllocator(alloc buffer.ExecAllocator) (*Assembler, error) {
	base, err := buffer.New(alloc)
	if err != nil {
		return nil, err
	}
	return &Assembler{base: base}, nil
}

// NewDynamicLabel mints a fresh, as-yet-undefined dynamic label id.
func (a *Assembler) NewDynamicLabel() DynamicLabel {
	return a.labels.NewDynamic()
}

// Offset returns the current absolute offset: committed bytes plus
// however many bytes are staged.
func (a *Assembler) Offset() AssemblyOffset {
	return a.base.Offset()
}

// Push appends one byte to the staging buffer.
func (a *Assembler) Push(v byte) {
	a.base.Push(v)
}

// Extend appends bs to the staging buffer.
func (a *Assembler) Extend(bs []byte) {
	a.base.Extend(bs)
}

// Align appends fill bytes until the offset is a multiple of n.
func (a *Assembler) Align(n int, fill byte) {
	a.base.Align(n, fill)
}

// LocalLabel defines the reusable local label name at the current offset,
// draining and patching every pending forward reference to it.
func (a *Assembler) LocalLabel(name string) {
	off := a.base.Offset()
	for _, loc := range a.relocs.DrainLocal(name) {
		a.patchStaging(loc, off)
	}
	a.labels.DefineLocal(name, off)
}

// GlobalLabel defines the unique global label name at the current offset.
// It is an error to define the same global label twice.
func (a *Assembler) GlobalLabel(name string) error {
	return a.labels.DefineGlobal(name, a.base.Offset())
}

// DynamicLabel defines id at the current offset. It is an error to define
// the same dynamic label twice.
func (a *Assembler) DynamicLabel(id DynamicLabel) error {
	return a.labels.DefineDynamic(id, a.base.Offset())
}

// GlobalReloc requests a patch of kind at the current offset against
// name's definition. Always deferred to Commit, even if name is already
// defined.
func (a *Assembler) GlobalReloc(name string, kind Kind) {
	a.relocs.AddGlobal(reloc.PatchLoc{EndOffset: a.base.Offset(), Kind: kind}, name)
}

// DynamicReloc requests a patch of kind at the current offset against
// id's definition. Always deferred to Commit.
func (a *Assembler) DynamicReloc(id DynamicLabel, kind Kind) {
	a.relocs.AddDynamic(reloc.PatchLoc{EndOffset: a.base.Offset(), Kind: kind}, uint32(id))
}

// ForwardReloc requests a patch of kind at the current offset against a
// local label name that has not been defined yet. Drained the next time
// LocalLabel(name) is called.
func (a *Assembler) ForwardReloc(name string, kind Kind) {
	a.relocs.AddForwardLocal(reloc.PatchLoc{EndOffset: a.base.Offset(), Kind: kind}, name)
}

// BackwardReloc patches a reference of kind at the current offset
// immediately, against name's existing definition. It panics with
// *UnknownLabelError if name has no definition yet — backward references
// are a contract that the label is already defined.
func (a *Assembler) BackwardReloc(name string, kind Kind) {
	off, err := a.labels.ResolveLocal(name)
	if err != nil {
		panic(&UnknownLabelError{Name: name})
	}
	a.patchStaging(reloc.PatchLoc{EndOffset: a.base.Offset(), Kind: kind}, off)
}

// BareReloc patches a reference of kind at the current offset immediately
// against the caller-supplied absolute target.
func (a *Assembler) BareReloc(target int, kind Kind) {
	a.patchStaging(reloc.PatchLoc{EndOffset: a.base.Offset(), Kind: kind}, target)
}

// patchStaging patches loc against target within the staging buffer. Both
// Commit and the immediate-resolution reloc ops use this: the site of any
// relocation requested before the next Commit is, by construction, still
// in the staging region.
func (a *Assembler) patchStaging(loc reloc.PatchLoc, target int) {
	buf := a.base.StagingBytes(loc.SiteOffset(), loc.Kind.Size())
	reloc.Patch(buf, loc.SiteOffset(), loc.Kind, target)
}

// Commit drains every pending global and dynamic relocation against the
// label registry, patching the staging buffer, then promotes the staged
// bytes into the committed executable region. An unresolved local label
// or an unknown global/dynamic reference is fatal, per the core's
// panic-on-broken-invariant contract.
func (a *Assembler) Commit() error {
	var unknown *UnknownLabelError
	for _, gf := range a.relocs.Global {
		off, err := a.labels.ResolveGlobal(gf.Name)
		if err != nil {
			unknown = &UnknownLabelError{Name: gf.Name}
			continue
		}
		a.patchStaging(gf.Loc, off)
	}
	for _, df := range a.relocs.Dynamic {
		off, err := a.labels.ResolveDynamic(DynamicLabel(df.ID))
		if err != nil {
			unknown = &UnknownLabelError{Name: fmt.Sprintf("dynamic:%d", df.ID)}
			continue
		}
		a.patchStaging(df.Loc, off)
	}
	if name := a.relocs.PendingLocalName(); name != "" {
		panic(&UnresolvedLabelError{Name: name})
	}
	if unknown != nil {
		panic(unknown)
	}

	a.relocs.Global = a.relocs.Global[:0]
	a.relocs.Dynamic = a.relocs.Dynamic[:0]
	return a.base.Commit(nil)
}

// Reader acquires a shared lock over the committed region. The caller
// must call Close on the returned Executor when done.
func (a *Assembler) Reader() Executor {
	return Executor{a.base.Reader()}
}

// Finalize commits any pending state, then attempts to surrender the
// committed region outright. If a reader is still live, it returns
// ErrFinalizeContended and leaves the assembler unchanged and usable.
// Committing staged bytes waits for live readers, as Commit does, so the
// contended case is reported only when nothing is staged.
func (a *Assembler) Finalize() ([]byte, error) {
	if err := a.Commit(); err != nil {
		return nil, err
	}
	mem, ok := a.base.Finalize()
	if !ok {
		return nil, ErrFinalizeContended
	}
	return mem, nil
}

// Alter commits current state, acquires exclusive writer access to the
// committed region, and passes a Modifier to f. Relocations emitted
// through the modifier (including deferred global/dynamic references) are
// drained and patched against the mutable committed view before execute
// protection is restored. Offsets passed to the modifier are absolute
// within the committed region.
func (a *Assembler) Alter(f func(*Modifier)) error {
	if err := a.Commit(); err != nil {
		return err
	}
	mb, err := a.base.BeginAlter()
	if err != nil {
		return err
	}
	m := &Modifier{asm: a, buf: mb}
	f(m)
	m.drain()
	mb.End()
	return nil
}

// AlterUncommitted returns a handle to edit the staging bytes in place
// without committing. Labels must not be defined or referenced through
// this handle: doing so corrupts the label registry's offset bookkeeping,
// since staging offsets are not yet stable addresses.
func (a *Assembler) AlterUncommitted() UncommittedBuffer {
	return UncommittedBuffer{asm: a}
}

// Executor is a shared, read-only view of the committed executable
// region returned by Reader.
type Executor struct {
	ex buffer.Executor
}

// Bytes returns the committed code.
func (e Executor) Bytes() []byte { return e.ex.Bytes() }

// Base returns the address of the first byte of the committed region.
func (e Executor) Base() uintptr { return e.ex.Base() }

// Close releases the shared lock acquired by Reader.
func (e Executor) Close() { e.ex.Close() }

// UncommittedBuffer edits the staging bytes in place, ahead of commit.
type UncommittedBuffer struct{ asm *Assembler }

// Bytes returns the current staging buffer span [absOffset, absOffset+size).
func (u UncommittedBuffer) Bytes(absOffset, size int) []byte {
	return u.asm.base.StagingBytes(absOffset, size)
}
