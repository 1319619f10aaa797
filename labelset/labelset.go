// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package labelset implements the label registry of a dynamic assembler:
// a name/id to offset directory with three label flavors (global, local,
// dynamic) and the resolution rules that go with each.
package labelset

import "fmt"

// DynamicLabel is an id minted by Registry.NewDynamic. It is defined at
// most once, and is used when the referencing code does not statically
// know a name (for instance, a computed jump table entry).
type DynamicLabel uint32

// UndefinedLabelError is returned by the Resolve* methods when asked to
// resolve a label that has no definition yet.
type UndefinedLabelError struct {
	Kind string // "global", "local" or "dynamic"
	Name string
}

func (e *UndefinedLabelError) Error() string {
	return fmt.Sprintf("labelset: undefined %s label %q", e.Kind, e.Name)
}

// RedefinedLabelError is returned by DefineGlobal/DefineDynamic when the
// label already has a definition. Global and dynamic labels may each be
// defined at most once; local labels have no such restriction.
type RedefinedLabelError struct {
	Kind string
	Name string
}

func (e *RedefinedLabelError) Error() string {
	return fmt.Sprintf("labelset: %s label %q already defined", e.Kind, e.Name)
}

// Registry stores the three label maps. The zero value is ready to use.
type Registry struct {
	global  map[string]int
	local   map[string]int
	dynamic map[DynamicLabel]int

	nextDynamic DynamicLabel
}

// NewDynamic mints a fresh, as-yet-undefined dynamic label id.
func (r *Registry) NewDynamic() DynamicLabel {
	id := r.nextDynamic
	r.nextDynamic++
	return id
}

// DefineGlobal records offset as the definition of the unique global
// label name. It is an error to define the same global label twice.
func (r *Registry) DefineGlobal(name string, offset int) error {
	if r.global == nil {
		r.global = make(map[string]int)
	}
	if _, ok := r.global[name]; ok {
		return &RedefinedLabelError{Kind: "global", Name: name}
	}
	r.global[name] = offset
	return nil
}

// DefineLocal records offset as the latest definition of the reusable
// local label name. Local labels may be redefined; each definition
// shadows the previous one for subsequent backward references.
func (r *Registry) DefineLocal(name string, offset int) {
	if r.local == nil {
		r.local = make(map[string]int)
	}
	r.local[name] = offset
}

// DefineDynamic records offset as the definition of id. It is an error
// to define the same dynamic label twice.
func (r *Registry) DefineDynamic(id DynamicLabel, offset int) error {
	if r.dynamic == nil {
		r.dynamic = make(map[DynamicLabel]int)
	}
	if _, ok := r.dynamic[id]; ok {
		return &RedefinedLabelError{Kind: "dynamic", Name: fmt.Sprintf("%d", id)}
	}
	r.dynamic[id] = offset
	return nil
}

// ResolveGlobal returns the offset name was defined at.
func (r *Registry) ResolveGlobal(name string) (int, error) {
	off, ok := r.global[name]
	if !ok {
		return 0, &UndefinedLabelError{Kind: "global", Name: name}
	}
	return off, nil
}

// ResolveLocal returns the offset of the most recent definition of name.
func (r *Registry) ResolveLocal(name string) (int, error) {
	off, ok := r.local[name]
	if !ok {
		return 0, &UndefinedLabelError{Kind: "local", Name: name}
	}
	return off, nil
}

// ResolveDynamic returns the offset id was defined at.
func (r *Registry) ResolveDynamic(id DynamicLabel) (int, error) {
	off, ok := r.dynamic[id]
	if !ok {
		return 0, &UndefinedLabelError{Kind: "dynamic", Name: fmt.Sprintf("%d", id)}
	}
	return off, nil
}
