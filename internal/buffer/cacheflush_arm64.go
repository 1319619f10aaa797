// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build arm64

package buffer

import "unsafe"

// sysICacheSync is implemented in cacheflush_arm64.s. It runs the
// DC CVAU / DSB / IC IVAU / DSB / ISB sequence the Arm Architecture
// Reference Manual requires before freshly written code may be executed.
//
//go:noescape
func sysICacheSync(addr, length uintptr)

func flushInstructionCache(mem []byte) {
	if len(mem) == 0 {
		return
	}
	sysICacheSync(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)))
}
