// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reloc implements the AArch64-specific relocation encoder: the
// pure bit-level mutation applied to a patch site once its target address
// is known, plus the PatchLoc value and pending-fixup list types the
// assembler façade threads relocations through.
package reloc

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
)

// Debug gates the package's trace logging.
var Debug = false

// logger writes to stderr; every call site is gated on Debug.
var logger = log.New(os.Stderr, "reloc: ", log.Lshortfile)

// Kind is the closed set of seven AArch64 relocation shapes. The integer
// values match the 8-bit wire tag macro layers use to request a
// relocation (§6 of the relocation core this package implements).
type Kind byte

const (
	// B patches the 26-bit, dword-aligned field of unconditional b/bl.
	B Kind = iota
	// BCOND patches the 19-bit, dword-aligned field of b.cond/cbz/cbnz/
	// ldr-literal/ldrsw-literal/prfm-literal.
	BCOND
	// ADR patches the split 21-bit, byte-aligned field of adr.
	ADR
	// ADRP patches the split 21-bit, 4096-byte-aligned field of adrp.
	ADRP
	// TBZ patches the 14-bit, dword-aligned field of tbz/tbnz.
	TBZ
	// LITERAL32 overwrites an inline 32-bit data word.
	LITERAL32
	// LITERAL64 overwrites an inline 64-bit data word.
	LITERAL64
)

// InvalidKindError is returned when decoding an 8-bit wire tag that names
// none of the seven relocation kinds.
type InvalidKindError struct{ Tag byte }

func (e InvalidKindError) Error() string {
	return fmt.Sprintf("reloc: invalid relocation tag %d", e.Tag)
}

// FromTag decodes the 8-bit wire representation of a Kind.
func FromTag(tag byte) (Kind, error) {
	if tag > byte(LITERAL64) {
		return 0, InvalidKindError{Tag: tag}
	}
	return Kind(tag), nil
}

// Size returns the number of bytes a relocation of this kind patches.
func (k Kind) Size() int {
	if k == LITERAL64 {
		return 8
	}
	return 4
}

// fieldMask returns the bits of the instruction word that are preserved
// (i.e. not part of the encoded displacement) when patching a bitfield
// kind. LITERAL32/LITERAL64 have no mask: they're overwritten wholesale.
func (k Kind) fieldMask() uint32 {
	switch k {
	case B:
		return 0xFC000000
	case BCOND:
		return 0xFF00001F
	case ADR, ADRP:
		return 0x9F00001F
	case TBZ:
		return 0xFFF8001F
	default:
		panic(fmt.Sprintf("reloc: %v has no bitfield mask", k))
	}
}

func (k Kind) String() string {
	switch k {
	case B:
		return "B"
	case BCOND:
		return "BCOND"
	case ADR:
		return "ADR"
	case ADRP:
		return "ADRP"
	case TBZ:
		return "TBZ"
	case LITERAL32:
		return "LITERAL32"
	case LITERAL64:
		return "LITERAL64"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// PatchLoc is a pending or immediate patch site. EndOffset is the byte
// offset immediately after the instruction or literal being patched;
// patching begins at EndOffset-Kind.Size().
type PatchLoc struct {
	EndOffset int
	Kind      Kind
}

// SiteOffset returns the start of the instruction or literal this
// PatchLoc refers to.
func (p PatchLoc) SiteOffset() int {
	return p.EndOffset - p.Kind.Size()
}

// Patch mutates the k.Size() bytes of buf (taken to start at absolute
// offset site) to encode the displacement from the site to target.
// buf must be exactly k.Size() bytes long. All multi-byte values
// are little-endian.
func Patch(buf []byte, site int, k Kind, target int) {
	if len(buf) != k.Size() {
		panic(fmt.Sprintf("reloc: Patch: buf is %d bytes, want %d for %v", len(buf), k.Size(), k))
	}
	t := uint64(int64(target - site))

	switch k {
	case LITERAL32:
		binary.LittleEndian.PutUint32(buf, uint32(t))
		return
	case LITERAL64:
		binary.LittleEndian.PutUint64(buf, t)
		return
	}

	base := binary.LittleEndian.Uint32(buf) & k.fieldMask()
	t32 := uint32(t)

	var patch uint32
	switch k {
	case B:
		patch = (t32 >> 2) & 0x3FFFFFF
	case BCOND:
		patch = ((t32 >> 2) & 0x7FFFF) << 5
	case ADR:
		patch = ((t32 & 0x3) << 29) | (((t32 >> 2) & 0x7FFFF) << 5)
	case ADRP:
		patch = (((t32 >> 12) & 0x3) << 29) | (((t32 >> 14) & 0x7FFFF) << 5)
	case TBZ:
		patch = ((t32 >> 2) & 0x3FFF) << 5
	}

	binary.LittleEndian.PutUint32(buf, base|patch)
	if Debug {
		logger.Printf("patched %v at site %#x -> target %#x: %#08x", k, site, target, base|patch)
	}
}

// DisplacementRangeError is returned by CheckRange when a displacement
// cannot round-trip through a relocation kind's field width.
type DisplacementRangeError struct {
	Kind         Kind
	Displacement int64
}

func (e DisplacementRangeError) Error() string {
	return fmt.Sprintf("reloc: displacement %d does not fit in the %v field", e.Displacement, e.Kind)
}

// CheckRange is an optional, pre-flight range check a macro layer may
// call before committing. The core encoder never calls this itself: out
// of range displacements silently wrap modulo the field width, per the
// relocation core's contract.
func CheckRange(k Kind, displacement int64) error {
	switch k {
	case LITERAL32:
		if displacement < -(1<<31) || displacement >= (1<<31) {
			return DisplacementRangeError{k, displacement}
		}
	case LITERAL64:
		// Every int64 fits in 64 bits.
	case B:
		if displacement%4 != 0 || displacement < -(1<<27) || displacement >= (1<<27) {
			return DisplacementRangeError{k, displacement}
		}
	case BCOND:
		if displacement%4 != 0 || displacement < -(1<<20) || displacement >= (1<<20) {
			return DisplacementRangeError{k, displacement}
		}
	case ADR:
		if displacement < -(1<<20) || displacement >= (1<<20) {
			return DisplacementRangeError{k, displacement}
		}
	case ADRP:
		// ADRP's target need not be page-aligned: only the page component
		// of the displacement is encoded.
		page := displacement >> 12
		if page < -(1<<20) || page >= (1<<20) {
			return DisplacementRangeError{k, displacement}
		}
	case TBZ:
		if displacement%4 != 0 || displacement < -(1<<15) || displacement >= (1<<15) {
			return DisplacementRangeError{k, displacement}
		}
	default:
		return InvalidKindError{Tag: byte(k)}
	}
	return nil
}

// Table carries the three pending-fixup lists a relocation-table policy
// drains at commit (global, dynamic) or at each local label definition
// (local). The zero value is ready to use.
type Table struct {
	Global  []GlobalFixup
	Dynamic []DynamicFixup
	Local   map[string][]PatchLoc
}

// GlobalFixup pairs a pending patch site with the global label name it
// targets. Global references are always deferred to commit.
type GlobalFixup struct {
	Loc  PatchLoc
	Name string
}

// DynamicFixup pairs a pending patch site with the dynamic label id it
// targets. Dynamic references are always deferred to commit.
type DynamicFixup struct {
	Loc PatchLoc
	ID  uint32
}

// AddGlobal defers loc to be patched against name's definition at commit.
func (t *Table) AddGlobal(loc PatchLoc, name string) {
	t.Global = append(t.Global, GlobalFixup{loc, name})
}

// AddDynamic defers loc to be patched against id's definition at commit.
func (t *Table) AddDynamic(loc PatchLoc, id uint32) {
	t.Dynamic = append(t.Dynamic, DynamicFixup{loc, id})
}

// AddForwardLocal records a forward reference to the reusable local
// label name, to be drained the next time name is defined.
func (t *Table) AddForwardLocal(loc PatchLoc, name string) {
	if t.Local == nil {
		t.Local = make(map[string][]PatchLoc)
	}
	t.Local[name] = append(t.Local[name], loc)
}

// DrainLocal removes and returns every pending forward reference to name,
// for the caller to patch against its new definition offset.
func (t *Table) DrainLocal(name string) []PatchLoc {
	locs := t.Local[name]
	delete(t.Local, name)
	return locs
}

// PendingLocalName returns the name of an arbitrary local label that
// still has unresolved forward references, or "" if none remain. Used to
// build the fatal "unresolved local label" error at commit/close.
func (t *Table) PendingLocalName() string {
	for name, locs := range t.Local {
		if len(locs) > 0 {
			return name
		}
	}
	return ""
}
