package codegen

import (
	"github.com/bbvjit/corevm/abi"
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/value"
)

// emitBranch implements §4.E's branch-if-truthy/falsy/nil and plain jump:
// a backwards offset gets an interrupt check first, and every branch uses
// the "dual-edge" machinery -- the edge that falls through physically is
// left un-instructed (the next instruction's code is simply emitted right
// after), while the other edge materializes a stub that a later recompile
// rewrites to jump directly once it resolves.
func emitBranch(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	targetPC := c.body.NextPC(c.pc) + instr.Operands[0]
	if targetPC < c.pc {
		emitInterruptCheck(c)
	}

	if instr.Op == bytecode.OpJump {
		label, err := c.registerStubEdge(targetPC)
		if err != nil {
			return CannotCompile
		}
		c.bd.EmitJump(label)
		return EndBlock
	}

	c.bd.EmitPop(native.ScratchRegister)
	c.ctx.Pop()

	label, err := c.registerStubEdge(targetPC)
	if err != nil {
		return CannotCompile
	}

	switch instr.Op {
	case bytecode.OpBranchIfNil:
		c.bd.EmitCompareImm(native.ScratchRegister, int64(value.Nil))
		c.bd.EmitJumpIfZero(label)
	case bytecode.OpBranchIfFalsy:
		c.bd.EmitCompareImm(native.ScratchRegister, int64(value.False))
		c.bd.EmitJumpIfZero(label)
		c.bd.EmitCompareImm(native.ScratchRegister, int64(value.Nil))
		c.bd.EmitJumpIfZero(label)
	case bytecode.OpBranchIfTruthy:
		fall := c.newLabel("branch_fallthrough")
		c.bd.EmitCompareImm(native.ScratchRegister, int64(value.False))
		c.bd.EmitJumpIfZero(fall)
		c.bd.EmitCompareImm(native.ScratchRegister, int64(value.Nil))
		c.bd.EmitJumpIfZero(fall)
		c.bd.EmitJump(label)
		c.bd.Label(fall)
	default:
		return CannotCompile
	}
	return KeepCompiling
}

// registerStubEdge records a deferred jump, resolved at finalize time, to
// a Stub compiled for targetPC against the context as it stands right
// now (after whatever stack effect the branch instruction itself already
// applied). It reuses the same coldPath{target} tagged union chain
// guards use for their deeper-stub edge, since both are "jump to a
// not-yet-compiled successor" sites.
func (c *Compiler) registerStubEdge(targetPC int64) (string, error) {
	stub, err := NewStub(c.body, targetPC, c.ctx.Dup(), c.alloc)
	if err != nil {
		return "", err
	}
	addr := stub.Addr()
	label := c.newLabel("branch_edge")
	c.coldPaths = append(c.coldPaths, coldPath{label: label, target: &addr})
	return label, nil
}

// emitInterruptCheck loads the execution context's pending-interrupt
// flags word and side-exits if any bit is set, per §4.E's backwards-
// branch requirement.
func emitInterruptCheck(c *Compiler) {
	c.bd.EmitLoadMem(native.TempRegister, native.ExecContextRegister, abi.ExecInterruptFlags*8)
	label := c.newLabel("interrupt_pending")
	c.bd.EmitTestBits(native.TempRegister, -1)
	c.bd.EmitJumpIfNotZero(label)
	c.coldPaths = append(c.coldPaths, coldPath{label: label, reason: ReasonInterruptPending})
}
