// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package native owns the only two concerns a host JIT can't express in
// portable Go: emitting amd64 machine code (backend_amd64.go, via
// golang-asm) and running it from executable memory obtained from the OS
// (allocator.go, via mmap-go). Everything above this package -- block
// versioning, guards, call-site lowering -- works in terms of the
// CodeUnit type below.
package native

import "unsafe"

// CodeUnit is one emitted, runnable instruction sequence: a compiled
// block body, a guard's side-exit stub, or a call-site's not-yet-compiled
// stub. Package codegen's CompiledBlock and Stub each hold one.
type CodeUnit struct {
	addr uintptr
	code []byte // the bytes Emit copied to addr
}

// Load emits code into executable memory and returns a CodeUnit that can
// later be invoked or patched.
func (a *Allocator) Load(code []byte) (*CodeUnit, error) {
	addr, err := a.Emit(code)
	if err != nil {
		return nil, err
	}
	return &CodeUnit{addr: addr, code: code}, nil
}

// Addr returns the absolute address of the unit's first instruction.
func (u *CodeUnit) Addr() uintptr { return u.addr }

func sliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
