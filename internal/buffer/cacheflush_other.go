// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !arm64

package buffer

// flushInstructionCache is a no-op off arm64: this package only ever
// executes the code it assembles on AArch64, but it still needs to build
// and run its non-execution tests on whatever GOARCH is running CI.
func flushInstructionCache(mem []byte) {}
