package codegen

import (
	"github.com/bbvjit/corevm/abi"
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
)

// emitLeave implements §4.E's return sequence: "assert stack has exactly
// one slot; emit interrupt check; load return value; pop the frame by
// incrementing the frame pointer; reload interpreter stack pointer and
// write the return value; jump through the popped frame's 'JIT return'
// slot, which was pre-populated on frame entry by the caller (§4.F)."
func emitLeave(c *Compiler, instr bytecode.Instruction) EmitResult {
	if c.ctx.StackSize != 1 {
		return CannotCompile
	}
	emitInterruptCheck(c)

	c.bd.EmitPop(native.ScratchRegister) // the return value

	// Capture the outgoing frame's JIT-return target before the frame
	// pointer advances past it -- it lives in the frame we are leaving,
	// not the one we are returning into.
	c.bd.EmitLoadMem(native.Scratch1Register, native.FrameRegister, abi.FrameJITReturn*8)

	c.bd.EmitAddImm(native.FrameRegister, abi.FrameWords*8)
	c.bd.EmitLoadMem(native.StackPointerRegister, native.FrameRegister, abi.FrameSP*8)
	c.bd.EmitPush(native.ScratchRegister)

	c.bd.EmitJumpToRegister(native.Scratch1Register)
	c.ctx.Pop()
	return EndBlock
}
