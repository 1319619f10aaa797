// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynarm

import (
	"github.com/xyproto/env/v2"

	"github.com/dynarm/dynarm64/internal/buffer"
	"github.com/dynarm/dynarm64/reloc"
)

// DebugFromEnv reads DYNARM_DEBUG from the environment and flips the
// trace-logging flags of every package that carries one. This is the one
// place the module reads the process environment.
func DebugFromEnv() {
	v := env.Bool("DYNARM_DEBUG", false)
	buffer.Debug = v
	reloc.Debug = v
}
