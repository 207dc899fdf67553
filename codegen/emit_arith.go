package codegen

import (
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/invalidate"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/value"
)

// fixnumOpIndex distinguishes the individual basic operations the
// invalidate package tracks under the "fixnum" tag, so redefining one
// (e.g. Integer#<) doesn't invalidate blocks that only ever assumed
// another (e.g. Integer#+).
const (
	opIndexLt = iota
	opIndexLe
	opIndexGt
	opIndexGe
	opIndexEq
	opIndexPlus
	opIndexMinus
)

// emitComparison implements §4.E's <, <=, >, >= on tagged integers: guard
// both operands fixnum, register that the corresponding basic op is not
// redefined, compare, and conditionally move true/false into place.
func emitComparison(c *Compiler, instr bytecode.Instruction) EmitResult {
	rhsType := c.ctx.StackType(0)
	lhsType := c.ctx.StackType(1)
	if rhsType.Kind != value.KindUnknown && rhsType.Kind != value.KindFixnum {
		return CannotCompile
	}
	if lhsType.Kind != value.KindUnknown && lhsType.Kind != value.KindFixnum {
		return CannotCompile
	}

	opIndex, cond := comparisonOp(instr.Op)
	if cond == condNone {
		return CannotCompile
	}

	c.bd.EmitPop(native.ScratchRegister)  // rhs
	c.bd.EmitPop(native.Scratch1Register) // lhs
	if rhsType.Kind != value.KindFixnum {
		c.guardFixnum(native.ScratchRegister)
	}
	if lhsType.Kind != value.KindFixnum {
		c.guardFixnum(native.Scratch1Register)
	}
	c.assume(invalidate.Key{Kind: invalidate.AssumeBasicOpNotRedefined, Tag: "fixnum", OpIndex: opIndex})

	c.bd.EmitCompareReg(native.Scratch1Register, native.ScratchRegister)

	c.bd.EmitMoveImm64(native.ScratchRegister, int64(value.False))
	c.bd.EmitMoveImm64(native.Scratch1Register, int64(value.True))
	c.bd.EmitCondMove(cond, native.ScratchRegister, native.Scratch1Register)

	c.bd.EmitPush(native.ScratchRegister)
	c.ctx.Pop()
	c.ctx.Pop()
	c.ctx.Push(jitctx.TypeOf(value.KindUnknown))
	return KeepCompiling
}

const condNone native.Cond = 255

func comparisonOp(op bytecode.Opcode) (int, native.Cond) {
	switch op {
	case bytecode.OpLt:
		return opIndexLt, native.CondLT
	case bytecode.OpLe:
		return opIndexLe, native.CondLE
	case bytecode.OpGt:
		return opIndexGt, native.CondGT
	case bytecode.OpGe:
		return opIndexGe, native.CondGE
	default:
		return 0, condNone
	}
}

// emitEqual implements §4.E's equality fast path for tagged integers: any
// other shape (string, heap receiver with a redefined ==) falls back to
// cannot-compile; emitEqual does not route such operands to emitSend.
func emitEqual(c *Compiler, instr bytecode.Instruction) EmitResult {
	rhsType := c.ctx.StackType(0)
	lhsType := c.ctx.StackType(1)
	if rhsType.Kind != value.KindFixnum || lhsType.Kind != value.KindFixnum {
		return CannotCompile
	}

	c.bd.EmitPop(native.ScratchRegister)
	c.bd.EmitPop(native.Scratch1Register)
	c.assume(invalidate.Key{Kind: invalidate.AssumeBasicOpNotRedefined, Tag: "fixnum", OpIndex: opIndexEq})

	c.bd.EmitCompareReg(native.Scratch1Register, native.ScratchRegister)
	c.bd.EmitMoveImm64(native.ScratchRegister, int64(value.False))
	c.bd.EmitMoveImm64(native.Scratch1Register, int64(value.True))
	c.bd.EmitCondMove(native.CondEQ, native.ScratchRegister, native.Scratch1Register)

	c.bd.EmitPush(native.ScratchRegister)
	c.ctx.Pop()
	c.ctx.Pop()
	c.ctx.Push(jitctx.TypeOf(value.KindUnknown))
	return KeepCompiling
}

// emitArith implements §4.E's "+, -" on tagged integers: both operands
// must be fixnums; the arithmetic is performed on the encoded
// representation, compensating for the low tag bit, and an overflow
// side-exits rather than attempting bignum promotion.
func emitArith(c *Compiler, instr bytecode.Instruction) EmitResult {
	rhsType := c.ctx.StackType(0)
	lhsType := c.ctx.StackType(1)
	if rhsType.Kind != value.KindUnknown && rhsType.Kind != value.KindFixnum {
		return CannotCompile
	}
	if lhsType.Kind != value.KindUnknown && lhsType.Kind != value.KindFixnum {
		return CannotCompile
	}

	var op native.Arith
	var opIndex int
	var reason SideExitReason
	switch instr.Op {
	case bytecode.OpPlus:
		op, opIndex, reason = native.ArithAdd, opIndexPlus, ReasonOverflowAdd
	case bytecode.OpMinus:
		op, opIndex, reason = native.ArithSub, opIndexMinus, ReasonOverflowSub
	default:
		return CannotCompile
	}

	c.bd.EmitPop(native.ScratchRegister)  // rhs
	c.bd.EmitPop(native.Scratch1Register) // lhs
	if rhsType.Kind != value.KindFixnum {
		c.guardFixnum(native.ScratchRegister)
	}
	if lhsType.Kind != value.KindFixnum {
		c.guardFixnum(native.Scratch1Register)
	}
	c.assume(invalidate.Key{Kind: invalidate.AssumeBasicOpNotRedefined, Tag: "fixnum", OpIndex: opIndex})

	// Both operands carry the tag bit (2n+1). Strip rhs's tag before the
	// add/sub so the result keeps exactly one tag bit rather than two.
	c.bd.EmitAndImm(native.ScratchRegister, ^int64(1))
	if err := c.bd.EmitBinaryI64(op, native.Scratch1Register, native.ScratchRegister); err != nil {
		return CannotCompile
	}

	label := c.newLabel("arith_overflow")
	c.bd.EmitJumpOverflow(label)
	c.coldPaths = append(c.coldPaths, coldPath{label: label, reason: reason})

	c.bd.EmitPush(native.Scratch1Register)
	c.ctx.Pop()
	c.ctx.Pop()
	c.ctx.Push(jitctx.TypeOf(value.KindFixnum))
	return KeepCompiling
}
