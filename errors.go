// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynarm

import (
	"errors"
	"fmt"
)

// ErrNoExecutor reports that no committed executable region exists. No
// function in this package returns it: New always allocates the initial
// region, so Finalize only fails with ErrFinalizeContended.
var ErrNoExecutor = errors.New("dynarm: no committed executable region")

// ErrFinalizeContended is returned by Finalize when one or more readers
// still hold the committed region.
var ErrFinalizeContended = errors.New("dynarm: finalize contended by a live reader")

// UnresolvedLabelError reports a local label that still has pending
// forward references when the assembler or modifier tries to close out.
type UnresolvedLabelError struct{ Name string }

func (e *UnresolvedLabelError) Error() string {
	return fmt.Sprintf("dynarm: unresolved local label %q", e.Name)
}

// UnknownLabelError reports a reference to a global or dynamic label that
// was never defined, discovered while draining the pending lists at
// commit, or a backward reference to a local label with no definition yet.
type UnknownLabelError struct{ Name string }

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("dynarm: unknown label %q", e.Name)
}

// InvalidRelocationTagError reports an 8-bit wire tag that names none of
// the seven relocation kinds.
type InvalidRelocationTagError struct{ Tag byte }

func (e *InvalidRelocationTagError) Error() string {
	return fmt.Sprintf("dynarm: invalid relocation tag %d", e.Tag)
}

// CheckFailedError is returned (not panicked) by Modifier.Check and
// Modifier.CheckExact when the cursor does not satisfy the requested
// bound. It is the one recoverable error the modifier surface produces.
type CheckFailedError struct {
	Cursor, Want AssemblyOffset
}

func (e *CheckFailedError) Error() string {
	return fmt.Sprintf("dynarm: check failed: cursor %d, want %d", e.Cursor, e.Want)
}
