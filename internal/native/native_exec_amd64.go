// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64

package native

import "unsafe"

// Invoke calls into the unit with the three ABI pointers described in
// package abi: the execution context, the current frame, and the JIT
// value-stack pointer. It returns whatever the callee leaves in its
// return register, interpreted by the caller as a side-exit reason code
// (codegen.SideExitReason) or zero for a normal fallthrough. Implemented in
// jitcall_amd64.s.
//
//go:noescape
func Invoke(entry uintptr, execCtx, frame, sp unsafe.Pointer) int64
