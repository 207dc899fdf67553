package codegen

import (
	"github.com/bbvjit/corevm/abi"
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/classes"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/value"
	"github.com/bbvjit/corevm/version"
)

// Assumed object layout for instance-variable access, consistent with
// §6's header description ("flags word ... class pointer") plus one slot
// this module adds for the embedded/extended ivar storage union:
//
//	+0  header flags (abi.HeaderFlag bits, including HeaderEmbed)
//	+8  class pointer
//	+16 either the first embedded ivar slot, or (when HeaderEmbed is
//	    clear) the extended ivar table pointer followed immediately by
//	    its capacity word.
const (
	objHeaderOffset = 0
	objClassOffset  = 8
	objEmbeddedBase = 16
	objExtPtrOffset = 16
	objExtCapOffset = 24
)

// emitGetIVar implements §4.E's instance-variable-get algorithm.
func emitGetIVar(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	name := c.body.NameAt(instr.Operands[0])
	selfType := c.ctx.SelfType

	// Step 1: a non-plain-object allocator means a container-like class
	// (or one with a custom allocator); this module has no generic
	// getter call machinery to fall back to, so it treats that as
	// cannot-compile -- see DESIGN.md.
	if selfType.Class == nil || selfType.Class.Allocator != nil {
		return CannotCompile
	}
	class := selfType.Class

	c.bd.EmitLoadMem(native.ScratchRegister, native.FrameRegister, abi.FrameSelf*8)
	if !selfType.Heap {
		c.guardHeap(native.ScratchRegister)
	}
	c.bd.EmitLoadMem(native.Scratch1Register, native.ScratchRegister, objClassOffset)
	if err := c.chainGuardKnownClass(native.Scratch1Register, class, version.SiteIVarGetter); err != nil {
		return CannotCompile
	}
	c.ctx.SetSelfType(jitctx.TypeOfClass(value.KindHeap, class))

	return emitIVarLoad(c, native.ScratchRegister, class, name)
}

// emitIVarReadNamed implements §4.F's accessor-callee lowering: "treated
// as an optimized getter using the ivar-get lowering, but with zero
// arguments required and the specialization rooted at the receiver's
// compile-time class" -- the receiver's class has already been
// chain-guarded by emitResolvedCall before this is reached, so this skips
// straight to the embedded/extended load steps of emitGetIVar, against
// objReg rather than self.
func emitIVarReadNamed(c *Compiler, objReg int16, class *classes.Class, name string) EmitResult {
	return emitIVarLoad(c, objReg, class, name)
}

// emitIVarLoad is steps 2/4/5 of §4.E's instance-variable-get algorithm,
// shared by emitGetIVar (receiver: self) and emitIVarReadNamed (receiver:
// an already-guarded call-site receiver).
func emitIVarLoad(c *Compiler, objReg int16, class *classes.Class, name string) EmitResult {
	// Step 2: look up (or force-insert) the ivar's stable index.
	idx := class.IVarIndexFor(name)

	// Steps 4/5: embedded vs. extended storage, decided here by whether
	// idx fits the embed capacity -- this module does not model a
	// per-shape embed/extended split beyond that capacity check.
	c.bd.EmitLoadMem(native.Scratch1Register, objReg, objHeaderOffset)
	c.bd.EmitTestBits(native.Scratch1Register, int64(abi.HeaderEmbed))

	dst := native.ScratchRegister
	if idx < abi.EmbeddedIVarCapacity {
		embedLabel := c.newLabel("ivar_wrong_layout")
		c.bd.EmitJumpIfZero(embedLabel) // embed flag clear but we expected embedded
		c.coldPaths = append(c.coldPaths, coldPath{label: embedLabel, reason: ReasonIVarEmbedMismatch})
		c.bd.EmitLoadMem(dst, objReg, int64(objEmbeddedBase+8*idx))
	} else {
		embedLabel := c.newLabel("ivar_wrong_layout")
		c.bd.EmitJumpIfNotZero(embedLabel) // embed flag set but we expected extended
		c.coldPaths = append(c.coldPaths, coldPath{label: embedLabel, reason: ReasonIVarEmbedMismatch})

		c.bd.EmitLoadMem(native.Scratch1Register, objReg, objExtCapOffset)
		c.bd.EmitCompareImm(native.Scratch1Register, int64(idx))
		oobLabel := c.newLabel("ivar_oob")
		c.bd.EmitJumpIfLessOrEqual(oobLabel) // cap <= idx: out of range (cap holds count, 0-indexed)
		c.coldPaths = append(c.coldPaths, coldPath{label: oobLabel, reason: ReasonIVarIndexOutOfRange})

		c.bd.EmitLoadMem(dst, objReg, objExtPtrOffset)
		c.bd.EmitLoadMem(dst, dst, int64(8*idx))
	}

	// map undefined -> nil.
	c.bd.EmitCompareImm(dst, int64(value.Undef))
	skipNil := c.newLabel("ivar_not_undef")
	c.bd.EmitJumpIfNotZero(skipNil)
	c.bd.EmitMoveImm64(dst, int64(value.Nil))
	c.bd.Label(skipNil)

	c.bd.EmitPush(dst)
	c.ctx.Push(jitctx.Unknown)
	return KeepCompiling
}
