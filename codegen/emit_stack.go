package codegen

import (
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/jitctx"
)

// Stack-shuffle emitters operate purely in terms of context slots; per
// §4.E "no runtime code emitted beyond register moves", mappings and
// types follow the values rather than being recomputed.

func emitDup(c *Compiler, instr bytecode.Instruction) EmitResult {
	t := c.ctx.StackType(0)
	c.bd.EmitLoadStackWord(native.ScratchRegister, 0)
	c.bd.EmitPush(native.ScratchRegister)
	c.ctx.Push(t)
	return KeepCompiling
}

func emitDupN(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	n := int(instr.Operands[0])
	if n < 0 {
		return CannotCompile
	}
	types := make([]jitctx.Type, n)
	for i := 0; i < n; i++ {
		types[i] = c.ctx.StackType(n - 1 - i)
	}
	for i := 0; i < n; i++ {
		// Each push moves the next word to copy down to depth n-1.
		c.bd.EmitLoadStackWord(native.ScratchRegister, n-1)
		c.bd.EmitPush(native.ScratchRegister)
	}
	for _, t := range types {
		c.ctx.Push(t)
	}
	return KeepCompiling
}

func emitSwap(c *Compiler, instr bytecode.Instruction) EmitResult {
	top := c.ctx.StackType(0)
	second := c.ctx.StackType(1)
	c.bd.EmitPop(native.ScratchRegister)  // top
	c.bd.EmitPop(native.Scratch1Register) // second
	c.bd.EmitPush(native.ScratchRegister)
	c.bd.EmitPush(native.Scratch1Register)
	c.ctx.Pop()
	c.ctx.Pop()
	c.ctx.Push(top)
	c.ctx.Push(second)
	return KeepCompiling
}

// emitSetN overwrites the slot N entries below the top with the current
// top value, per the interpreter's "set-N" stack-shuffle primitive.
func emitSetN(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	n := int(instr.Operands[0])
	if n < 0 {
		return CannotCompile
	}
	top := c.ctx.StackType(0)
	c.bd.EmitLoadStackWord(native.ScratchRegister, 0)
	c.bd.EmitStoreStackWord(native.ScratchRegister, n)
	c.ctx.SetStackType(n, top)
	return KeepCompiling
}

// emitTopN duplicates the slot N entries below the top onto the top of
// the stack.
func emitTopN(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	n := int(instr.Operands[0])
	t := c.ctx.StackType(n)
	c.bd.EmitLoadStackWord(native.ScratchRegister, n)
	c.bd.EmitPush(native.ScratchRegister)
	c.ctx.Push(t)
	return KeepCompiling
}

func emitPop(c *Compiler, instr bytecode.Instruction) EmitResult {
	c.bd.EmitPop(native.ScratchRegister)
	c.ctx.Pop()
	return KeepCompiling
}

// emitAdjustStack drops N values from the top of the stack in one go,
// used by the interpreter after a call whose results are discarded.
func emitAdjustStack(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	n := int(instr.Operands[0])
	for i := 0; i < n; i++ {
		c.bd.EmitPop(native.ScratchRegister)
		c.ctx.Pop()
	}
	return KeepCompiling
}
