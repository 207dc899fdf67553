package codegen

import (
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/value"
)

// Literal-push emitters move a constant into the top stack slot per
// §4.E. For heap values (arbitrary objects, interned strings) the
// embedded reference offset is recorded on the compiler so a relocating
// host GC could, in principle, rewrite it if the emitted block's code
// page ever moved; this module's allocator never moves or compacts
// emitted code (§5's "leak, don't reclaim" policy), so the list is kept
// for fidelity to §4.E's contract without a consumer yet -- see
// DESIGN.md.

func pushImmediate(c *Compiler, w value.Word, t jitctx.Type) {
	c.bd.EmitMoveImm64(native.ScratchRegister, int64(w))
	c.bd.EmitPush(native.ScratchRegister)
	c.ctx.Push(t)
}

func emitPutNil(c *Compiler, instr bytecode.Instruction) EmitResult {
	pushImmediate(c, value.Nil, jitctx.TypeOf(value.KindNil))
	return KeepCompiling
}

func emitPutTrue(c *Compiler, instr bytecode.Instruction) EmitResult {
	pushImmediate(c, value.True, jitctx.TypeOf(value.KindTrue))
	return KeepCompiling
}

func emitPutFalse(c *Compiler, instr bytecode.Instruction) EmitResult {
	pushImmediate(c, value.False, jitctx.TypeOf(value.KindFalse))
	return KeepCompiling
}

func emitPutFixnum(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	pushImmediate(c, value.MakeFixnum(instr.Operands[0]), jitctx.TypeOf(value.KindFixnum))
	return KeepCompiling
}

// emitPutObject pushes an arbitrary literal object's already-allocated
// word (the operand carries the object's address, assigned at bytecode
// load time -- the same convention the interpreter itself uses for
// literal pools).
func emitPutObject(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	c.embeddedRefs = append(c.embeddedRefs, c.pc)
	pushImmediate(c, value.Word(instr.Operands[0]), jitctx.TypeOf(value.KindHeap))
	return KeepCompiling
}

// emitPutString pushes an interned string literal, keyed the same way as
// emitPutObject; string identity is established once at bytecode load.
func emitPutString(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	c.embeddedRefs = append(c.embeddedRefs, c.pc)
	pushImmediate(c, value.Word(instr.Operands[0]), jitctx.TypeOf(value.KindString))
	return KeepCompiling
}
