package codegen

import (
	"testing"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/value"
)

func TestEmitSetNOverwritesSlotBelowTop(t *testing.T) {
	c := newTestCompiler(t)
	c.ctx.Push(jitctx.TypeOf(value.KindHeap))   // slot 1 (to be overwritten)
	c.ctx.Push(jitctx.TypeOf(value.KindFixnum)) // top

	result := emitSetN(c, bytecode.Instruction{Op: bytecode.OpSetN, Operands: []int64{1}})
	if result != KeepCompiling {
		t.Fatalf("expected KeepCompiling, got %v", result)
	}
	if c.ctx.StackSize != 2 {
		t.Fatalf("expected set-n to leave both slots in place, got stack size %d", c.ctx.StackSize)
	}
	if got := c.ctx.StackType(1).Kind; got != value.KindFixnum {
		t.Fatalf("expected the overwritten slot to carry the top's type, got %v", got)
	}
}

func TestEmitSetNNegativeOperandCannotCompile(t *testing.T) {
	c := newTestCompiler(t)
	c.ctx.Push(jitctx.Unknown)

	result := emitSetN(c, bytecode.Instruction{Op: bytecode.OpSetN, Operands: []int64{-1}})
	if result != CannotCompile {
		t.Fatalf("expected CannotCompile for a negative operand, got %v", result)
	}
}

func TestEmitSetNMissingOperandCannotCompile(t *testing.T) {
	c := newTestCompiler(t)
	if result := emitSetN(c, bytecode.Instruction{Op: bytecode.OpSetN}); result != CannotCompile {
		t.Fatalf("expected CannotCompile for a missing operand, got %v", result)
	}
}
