// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !amd64

package native

import "unsafe"

// Invoke is unsupported on architectures this package has no backend for;
// the engine must fall back to the interpreter entirely, mirroring the
// teacher's native_compile_nogae.go stub for non-amd64 builds.
func Invoke(entry uintptr, execCtx, frame, sp unsafe.Pointer) int64 {
	panic("native: JIT execution is only supported on amd64")
}
