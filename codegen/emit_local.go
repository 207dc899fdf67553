package codegen

import (
	"github.com/bbvjit/corevm/abi"
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/jitctx"
)

// loadEnvPointer loads the current frame's environment pointer into reg,
// then walks `level` links up the block-capture chain by masking the low
// tag bit off the block-handler word, per §4.E: "walk the
// environment-pointer chain level times by loading and masking the low
// bits (the environment uses low-bit tagging for its previous pointer)".
func loadEnvPointer(c *Compiler, reg int16, level int) {
	c.bd.EmitLoadMem(reg, native.FrameRegister, abi.FrameEnvironment*8)
	for i := 0; i < level; i++ {
		c.bd.EmitLoadMem(reg, reg, abi.EnvBlockHandler*8)
		c.bd.EmitAndImm(reg, ^int64(1))
	}
}

// emitGetLocal loads local `slot` at nesting `level` and pushes it. A
// level-0 access is mapped back to the local's tracked type/mapping so a
// later refinement of that local is visible through the pushed copy
// (§4.B); a nonzero level is conservatively Unknown, since this package
// does not track types for outer scopes.
func emitGetLocal(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 2 {
		return CannotCompile
	}
	slot := instr.Operands[0]
	level := int(instr.Operands[1])

	loadEnvPointer(c, native.ScratchRegister, level)
	c.bd.EmitLoadMem(native.ScratchRegister, native.ScratchRegister, -slot*8)
	c.bd.EmitPush(native.ScratchRegister)

	if level == 0 {
		c.ctx.Push(c.ctx.LocalType(int(slot)))
		c.ctx.MapStackToLocal(0, int(slot))
	} else {
		c.ctx.Push(jitctx.Unknown)
	}
	return KeepCompiling
}

// emitSetLocal stores the top of stack into local `slot` at nesting
// `level`. Per §4.E, the write path tests the environment's
// write-barrier-required flag first; if set, this side-exits rather than
// inlining a barriered store.
func emitSetLocal(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 2 {
		return CannotCompile
	}
	slot := instr.Operands[0]
	level := int(instr.Operands[1])

	loadEnvPointer(c, native.ScratchRegister, level)
	c.bd.EmitLoadMem(native.Scratch1Register, native.ScratchRegister, abi.EnvFlags*8)
	c.bd.EmitTestBits(native.Scratch1Register, int64(abi.EnvFlagWriteBarrier))
	label := c.newLabel("write_barrier")
	c.bd.EmitJumpIfNotZero(label)
	c.coldPaths = append(c.coldPaths, coldPath{label: label, reason: ReasonWriteBarrierRequired})

	c.bd.EmitPop(native.Scratch1Register)
	c.bd.EmitStoreMem(native.ScratchRegister, -slot*8, native.Scratch1Register)

	top := c.ctx.StackType(0)
	c.ctx.Pop()
	if level == 0 {
		c.ctx.SetLocalType(int(slot), top)
	}
	return KeepCompiling
}
