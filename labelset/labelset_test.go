// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package labelset

import (
	"errors"
	"testing"
)

func TestGlobalDefineResolveRedefine(t *testing.T) {
	var r Registry
	if err := r.DefineGlobal("start", 10); err != nil {
		t.Fatal(err)
	}
	off, err := r.ResolveGlobal("start")
	if err != nil {
		t.Fatal(err)
	}
	if off != 10 {
		t.Fatalf("off = %d, want 10", off)
	}

	err = r.DefineGlobal("start", 20)
	var redef *RedefinedLabelError
	if !errors.As(err, &redef) {
		t.Fatalf("redefining a global label should fail with RedefinedLabelError, got %v", err)
	}
}

func TestLocalRedefinitionAllowed(t *testing.T) {
	var r Registry
	r.DefineLocal("loop", 4)
	r.DefineLocal("loop", 40)
	off, err := r.ResolveLocal("loop")
	if err != nil {
		t.Fatal(err)
	}
	if off != 40 {
		t.Fatalf("off = %d, want latest definition 40", off)
	}
}

func TestDynamicLabelLifecycle(t *testing.T) {
	var r Registry
	id := r.NewDynamic()
	if _, err := r.ResolveDynamic(id); err == nil {
		t.Fatal("expected undefined dynamic label to fail to resolve")
	}
	if err := r.DefineDynamic(id, 100); err != nil {
		t.Fatal(err)
	}
	off, err := r.ResolveDynamic(id)
	if err != nil || off != 100 {
		t.Fatalf("ResolveDynamic = %d, %v, want 100, nil", off, err)
	}
	if err := r.DefineDynamic(id, 200); err == nil {
		t.Fatal("expected redefining a dynamic label to fail")
	}
	other := r.NewDynamic()
	if other == id {
		t.Fatal("NewDynamic should mint distinct ids")
	}
}

func TestUndefinedGlobalResolveError(t *testing.T) {
	var r Registry
	_, err := r.ResolveGlobal("missing")
	var undef *UndefinedLabelError
	if !errors.As(err, &undef) {
		t.Fatalf("expected UndefinedLabelError, got %v", err)
	}
}
