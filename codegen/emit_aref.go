package codegen

import (
	"github.com/bbvjit/corevm/abi"
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/value"
	"github.com/bbvjit/corevm/version"
)

// emitARef implements §4.E's indexed-access algorithm: "compile-time-class
// specialization for array (with integer index) and hash. Array path
// guards receiver heap, not-nil/not-false, class is array, index is
// tagged integer; then calls the host's internal array-entry primitive.
// Hash path guards similarly and calls the host's hash-fetch primitive
// (which may allocate and compute hash codes)."
//
// The receiver's class must already be known at compile time (via a
// prior guard or literal push establishing jitctx.Type.Class) -- this
// module has no untyped indexed-access path to fall back to.
func emitARef(c *Compiler, instr bytecode.Instruction) EmitResult {
	idxType := c.ctx.StackType(0)
	recvType := c.ctx.StackType(1)
	if recvType.Class == nil {
		return CannotCompile
	}
	if idxType.Kind != value.KindUnknown && idxType.Kind != value.KindFixnum {
		return CannotCompile
	}

	var primitiveSlot int64
	switch recvType.Class {
	case c.hier.Array:
		primitiveSlot = abi.ExecArrayEntryPrimitive
	case c.hier.Hash:
		primitiveSlot = abi.ExecHashFetchPrimitive
	default:
		return CannotCompile
	}

	c.bd.EmitPop(native.ScratchRegister)  // index
	c.bd.EmitPop(native.Scratch1Register) // receiver

	// A heap receiver rules out nil/false (both immediates), covering the
	// "not-nil/not-false" half of the guard alongside "receiver heap".
	if !recvType.Heap {
		c.guardHeap(native.Scratch1Register)
	}
	if idxType.Kind != value.KindFixnum {
		c.guardFixnum(native.ScratchRegister)
	}

	c.bd.EmitLoadMem(native.TempRegister, native.Scratch1Register, objClassOffset)
	if err := c.chainGuardKnownClass(native.TempRegister, recvType.Class, version.SiteIndexAccess); err != nil {
		return CannotCompile
	}

	if err := c.bd.EmitCallHostPrimitive(primitiveSlot, native.Scratch1Register, native.ScratchRegister); err != nil {
		return CannotCompile
	}

	c.bd.EmitPush(native.ResultRegister)
	c.ctx.Pop()
	c.ctx.Pop()
	c.ctx.Push(jitctx.TypeOf(value.KindUnknown))
	return KeepCompiling
}
