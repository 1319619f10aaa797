// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dynarmdump assembles a small fixture AArch64 program exercising
// the B, ADRP and BCOND relocation kinds and hex-dumps the resulting
// committed buffer.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dynarm/dynarm64"
	"github.com/dynarm/dynarm64/internal/buffer"
	"github.com/dynarm/dynarm64/reloc"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: dynarmdump [options]

Assembles a fixture AArch64 program and hex-dumps the committed buffer.

options:
`)
		flag.PrintDefaults()
		os.Exit(1)
	}
}

var flagVerbose = flag.Bool("v", false, "enable/disable verbose mode")

func main() {
	log.SetPrefix("dynarmdump: ")
	log.SetFlags(0)
	flag.Parse()

	if *flagVerbose {
		buffer.Debug = true
		reloc.Debug = true
	}

	a, err := dynarm.New()
	if err != nil {
		log.Fatalf("could not allocate assembler: %v", err)
	}

	if err := assembleFixture(a); err != nil {
		log.Fatalf("could not assemble fixture: %v", err)
	}

	ex := a.Reader()
	defer ex.Close()
	fmt.Println(hexDump(ex.Bytes()))
}

// assembleFixture emits a tiny program exercising a forward B, a global
// label resolved through an ADRP, and a backward BCOND loop guard.
func assembleFixture(a *dynarm.Assembler) error {
	// b skip
	pushWord(a, 0x14000000)
	a.ForwardReloc("skip", dynarm.B)

	// page: adrp x0, page
	if err := a.GlobalLabel("page"); err != nil {
		return err
	}
	pushWord(a, 0x90000000)
	a.GlobalReloc("page", dynarm.ADRP)

	// loop:
	a.LocalLabel("loop")
	pushWord(a, 0xD503201F) // nop
	pushWord(a, 0x54000000) // b.eq placeholder
	a.BackwardReloc("loop", dynarm.BCOND)

	// skip:
	a.LocalLabel("skip")
	pushWord(a, 0xD65F03C0) // ret

	return a.Commit()
}

func pushWord(a *dynarm.Assembler, w uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], w)
	a.Extend(buf[:])
}

func hexDump(data []byte) string {
	return hex.Dump(data)
}
