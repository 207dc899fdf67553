// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package native

import (
	"fmt"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Reserved registers, matching abi.Reg* logical names:
//  - R12 - pointer to the execution context (abi.RegExecContext)
//  - R11 - pointer to the current control frame (abi.RegCurrentFrame)
//  - R10 - current JIT-visible stack pointer (abi.RegStackPointer)
//  - R13, R9 - scratch
// All others are free for an emitter to use transiently, matching the
// emitter-to-assembler contract of §6 ("a small set of reserved
// registers ... all others are free").
const (
	regExecContext  = x86.REG_R12
	regCurrentFrame = x86.REG_R11
	regStackPointer = x86.REG_R10
	regScratch0     = x86.REG_R13
	regScratch1     = x86.REG_R9
)

// Exported aliases of the reserved registers, for callers outside this
// package (package codegen's emitters, including its call-frame pushes)
// that need to build their own instruction sequences without
// redeclaring platform register numbers themselves.
const (
	ScratchRegister      = regScratch0
	Scratch1Register     = regScratch1
	FrameRegister        = regCurrentFrame
	ExecContextRegister  = regExecContext
	StackPointerRegister = regStackPointer

	// TempRegister is a third, unreserved register an emitter may use for
	// a value that does not need to survive a host-primitive call (unlike
	// ScratchRegister/Scratch1Register, which EmitCallHostPrimitive treats
	// as the call's argument values). It is caller-saved, so it must not
	// be relied on across EmitCallHostPrimitive.
	TempRegister = x86.REG_CX

	// ResultRegister is where EmitCallHostPrimitive and a side-exit unit
	// leave their result/reason code.
	ResultRegister = x86.REG_AX
)

// Builder wraps a golang-asm builder and tracks the one piece of state
// every emitter needs to cooperate on: labels for stub/side-exit targets
// that are only resolved once the whole block has been walked.
type Builder struct {
	b       *asm.Builder
	labels  map[string]*obj.Prog
	pending []pendingBranch
}

// NewBuilder allocates a fresh amd64 instruction builder. The 128-capacity
// hint mirrors the teacher's own "arbitrarily chosen, tune if profiling
// indicates a bottleneck" comment -- block versions are short by
// construction (one basic block at a time, per §1's Non-goals), so this
// is rarely exceeded.
func NewBuilder() (*Builder, error) {
	ab, err := asm.NewBuilder("amd64", 128)
	if err != nil {
		return nil, err
	}
	return &Builder{b: ab, labels: make(map[string]*obj.Prog)}, nil
}

// Assemble finalizes the instruction stream into machine code.
func (bd *Builder) Assemble() []byte {
	return bd.b.Assemble()
}

func (bd *Builder) prog() *obj.Prog { return bd.b.NewProg() }

// Label marks the next-emitted instruction as the target of name, for use
// by a later Jump(name).
func (bd *Builder) Label(name string) {
	p := bd.prog()
	p.As = obj.ANOP
	bd.b.AddInstruction(p)
	bd.labels[name] = p
}

// EmitLoadStackWord loads the value `wordIdx` words below the top of the
// JIT value stack into dst, mirroring the teacher's emitWasmStackLoad but
// parameterized by offset rather than always reading the very top.
func (bd *Builder) EmitLoadStackWord(dst int16, wordIdx int) {
	p := bd.prog()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = regStackPointer
	p.From.Offset = int64(-8 * (wordIdx + 1))
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	bd.b.AddInstruction(p)
}

// EmitPush writes src to the next free JIT value-stack slot and advances
// the stack-pointer register, mirroring emitWasmStackPush.
func (bd *Builder) EmitPush(src int16) {
	p := bd.prog()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = regStackPointer
	bd.b.AddInstruction(p)

	p = bd.prog()
	p.As = x86.AADDQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = 8
	p.To.Type = obj.TYPE_REG
	p.To.Reg = regStackPointer
	bd.b.AddInstruction(p)
}

// EmitPop retreats the stack-pointer register by one slot and loads its
// value into dst.
func (bd *Builder) EmitPop(dst int16) {
	p := bd.prog()
	p.As = x86.ASUBQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = 8
	p.To.Type = obj.TYPE_REG
	p.To.Reg = regStackPointer
	bd.b.AddInstruction(p)

	p = bd.prog()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = regStackPointer
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	bd.b.AddInstruction(p)
}

// EmitStoreStackWord stores src into the JIT value stack slot `wordIdx`
// words below the top, the write-side counterpart to EmitLoadStackWord
// used by set-n's "overwrite the slot N entries below the top" semantics.
func (bd *Builder) EmitStoreStackWord(src int16, wordIdx int) {
	p := bd.prog()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = regStackPointer
	p.To.Offset = int64(-8 * (wordIdx + 1))
	bd.b.AddInstruction(p)
}

// EmitLoadMem loads the 64-bit value at [baseReg + offset] into dst, the
// general memory access stack-relative loads/stores (EmitLoadStackWord,
// EmitPush, EmitPop) are built on top of implicitly. Emitters that walk a
// pointer chain not anchored at the JIT value stack (the environment
// chain, a frame's fields) use this directly.
func (bd *Builder) EmitLoadMem(dst, baseReg int16, offset int64) {
	p := bd.prog()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = baseReg
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	bd.b.AddInstruction(p)
}

// EmitStoreMem stores src into the 64-bit value at [baseReg + offset].
func (bd *Builder) EmitStoreMem(baseReg int16, offset int64, src int16) {
	p := bd.prog()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = baseReg
	p.To.Offset = offset
	bd.b.AddInstruction(p)
}

// EmitAddImm emits `add reg, imm`, used to advance a pointer register by a
// fixed byte count (e.g. popping a control frame by advancing past it).
func (bd *Builder) EmitAddImm(reg int16, imm int64) {
	p := bd.prog()
	p.As = x86.AADDQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = imm
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	bd.b.AddInstruction(p)
}

// EmitAndImm emits `and reg, imm`, used to mask tag bits off a pointer
// (e.g. recovering a raw environment pointer from a tagged block handler
// word).
func (bd *Builder) EmitAndImm(reg int16, imm int64) {
	p := bd.prog()
	p.As = x86.AANDQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = imm
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	bd.b.AddInstruction(p)
}

// EmitMoveImm64 loads a 64-bit immediate into dst.
func (bd *Builder) EmitMoveImm64(dst int16, imm int64) {
	p := bd.prog()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = imm
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	bd.b.AddInstruction(p)
}

// EmitTestBits emits `test reg, mask` and leaves the zero flag set
// accordingly, for tag-bit guards (e.g. value.IsFixnum).
func (bd *Builder) EmitTestBits(reg int16, mask int64) {
	p := bd.prog()
	p.As = x86.ATESTQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = mask
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	bd.b.AddInstruction(p)
}

// EmitCompareImm emits `cmp reg, imm`.
func (bd *Builder) EmitCompareImm(reg int16, imm int64) {
	p := bd.prog()
	p.As = x86.ACMPQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	p.To.Type = obj.TYPE_CONST
	p.To.Offset = imm
	bd.b.AddInstruction(p)
}

// EmitMoveReg emits `mov dst, src`.
func (bd *Builder) EmitMoveReg(dst, src int16) {
	p := bd.prog()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	bd.b.AddInstruction(p)
}

// hostCallArgRegs are the first four SysV integer argument registers.
// Three (execCtx, receiver, index/key) cover the host primitives
// (array-entry, hash-fetch); the fourth is needed by EmitCallAddress's
// variadic native-callee form (execCtx, argc, argv, receiver) and by
// fixed-arity native and leaf-builtin calls with two arguments (execCtx,
// receiver, two arguments).
var hostCallArgRegs = [4]int16{x86.REG_DI, x86.REG_SI, x86.REG_DX, x86.REG_CX}

// EmitCallHostPrimitive implements the "calls the host's internal
// array-entry primitive" / "calls the host's hash-fetch primitive" step
// of §4.E's indexed-access lowering: it loads a function pointer out of
// the execution context's primitive table (abi.ExecArrayEntryPrimitive
// and friends), places the execution context followed by extraArgs in
// the SysV integer argument registers, and calls it. regCurrentFrame/
// regStackPointer are caller-saved on this ABI (R11/R10 are not among
// amd64's callee-saved registers), so this saves and restores them
// around the call the same way jitcall_amd64.s does around its own
// CALL; regExecContext (R12) is callee-saved and needs no protection.
// The result comes back in AX.
func (bd *Builder) EmitCallHostPrimitive(tableSlot int64, extraArgs ...int16) error {
	if len(extraArgs)+1 > len(hostCallArgRegs) {
		return fmt.Errorf("native: EmitCallHostPrimitive: %d args exceeds the %d supported", len(extraArgs)+1, len(hostCallArgRegs))
	}
	// Copy extraArgs into their argument-register slots before touching
	// either scratch register, since extraArgs are themselves typically
	// regScratch0/regScratch1 (the emitter's working registers) and would
	// otherwise be clobbered by the function-pointer load below.
	for i, a := range extraArgs {
		bd.EmitMoveReg(hostCallArgRegs[i+1], a)
	}
	bd.EmitMoveReg(hostCallArgRegs[0], regExecContext)
	bd.EmitLoadMem(regScratch0, regExecContext, tableSlot*8)

	bd.EmitPush(regCurrentFrame)
	bd.EmitPush(regStackPointer)
	p := bd.prog()
	p.As = obj.ACALL
	p.To.Type = obj.TYPE_REG
	p.To.Reg = regScratch0
	bd.b.AddInstruction(p)
	bd.EmitPop(regStackPointer)
	bd.EmitPop(regCurrentFrame)
	return nil
}

// EmitCallAddress is EmitCallHostPrimitive generalized to an arbitrary
// absolute function address rather than an execution-context primitive
// table slot, used by call-site lowering's native-callee path (§4.F
// "native callee"). It always passes the execution context as the first
// SysV argument, mirroring the host-primitive convention, followed by
// extraArgs.
func (bd *Builder) EmitCallAddress(addr uintptr, extraArgs ...int16) error {
	if len(extraArgs)+1 > len(hostCallArgRegs) {
		return fmt.Errorf("native: EmitCallAddress: %d args exceeds the %d supported", len(extraArgs)+1, len(hostCallArgRegs))
	}
	for i, a := range extraArgs {
		bd.EmitMoveReg(hostCallArgRegs[i+1], a)
	}
	bd.EmitMoveReg(hostCallArgRegs[0], regExecContext)
	bd.EmitMoveImm64(regScratch0, int64(addr))

	bd.EmitPush(regCurrentFrame)
	bd.EmitPush(regStackPointer)
	p := bd.prog()
	p.As = obj.ACALL
	p.To.Type = obj.TYPE_REG
	p.To.Reg = regScratch0
	bd.b.AddInstruction(p)
	bd.EmitPop(regStackPointer)
	bd.EmitPop(regCurrentFrame)
	return nil
}

// EmitCompareReg emits `cmp reg, other`, leaving flags for EmitCondMove or
// a conditional jump to consume.
func (bd *Builder) EmitCompareReg(reg, other int16) {
	p := bd.prog()
	p.As = x86.ACMPQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	p.To.Type = obj.TYPE_REG
	p.To.Reg = other
	bd.b.AddInstruction(p)
}

// EmitBinaryI64 implements the overflow-checked tagged-integer
// arithmetic of §4.E's "+, -" emitters: it operates on the encoded
// representation (so callers must have already adjusted for the tag bit)
// and the caller is responsible for branching to a side exit immediately
// after on the overflow flag via EmitJumpOverflow.
func (bd *Builder) EmitBinaryI64(op Arith, dst, src int16) error {
	p := bd.prog()
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	switch op {
	case ArithAdd:
		p.As = x86.AADDQ
	case ArithSub:
		p.As = x86.ASUBQ
	default:
		return fmt.Errorf("native: unsupported arithmetic op %v", op)
	}
	bd.b.AddInstruction(p)
	return nil
}

// Arith enumerates the overflow-checked tagged-integer operations
// EmitBinaryI64 supports.
type Arith uint8

const (
	ArithAdd Arith = iota
	ArithSub
)

// Cond names a comparison outcome for EmitCondMove, kept arch-neutral so
// callers don't need to name x86 condition-code mnemonics themselves.
type Cond uint8

const (
	CondLT Cond = iota
	CondLE
	CondGT
	CondGE
	CondEQ
	CondNE
)

// EmitCondMove emits a conditional move of src into dst, predicated on
// the flags left by the preceding compare, implementing §4.E's
// "conditional move to select true/false" for the comparison and
// equality emitters.
func (bd *Builder) EmitCondMove(cond Cond, dst, src int16) {
	var as obj.As
	switch cond {
	case CondLT:
		as = x86.ACMOVQLT
	case CondLE:
		as = x86.ACMOVQLE
	case CondGT:
		as = x86.ACMOVQGT
	case CondGE:
		as = x86.ACMOVQGE
	case CondEQ:
		as = x86.ACMOVQEQ
	default:
		as = x86.ACMOVQNE
	}
	p := bd.prog()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	bd.b.AddInstruction(p)
}

// EmitJumpIfZero emits a conditional jump to label if the last comparison
// or test left the zero flag set.
func (bd *Builder) EmitJumpIfZero(label string) { bd.emitCondJump(x86.AJEQ, label) }

// EmitJumpIfNotZero emits a conditional jump to label if the last
// comparison or test left the zero flag clear.
func (bd *Builder) EmitJumpIfNotZero(label string) { bd.emitCondJump(x86.AJNE, label) }

// EmitJumpOverflow emits a conditional jump to label if the last
// arithmetic instruction set the overflow flag, the mechanism §4.E
// documents for side-exiting on fixnum add/sub overflow instead of
// promoting to a big integer inline.
func (bd *Builder) EmitJumpOverflow(label string) { bd.emitCondJump(x86.AJOS, label) }

// EmitJumpIfLessOrEqual emits a conditional jump to label if the last
// EmitCompareImm left flags indicating reg <= imm, the `<=` counterpart
// EmitJumpIfZero's exact-match test can't express on its own.
func (bd *Builder) EmitJumpIfLessOrEqual(label string) { bd.emitCondJump(x86.AJLE, label) }

func (bd *Builder) emitCondJump(as obj.As, label string) {
	p := bd.prog()
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	bd.b.AddInstruction(p)
	// The target Prog isn't known yet in general (forward branches are
	// common -- side exits are almost always forward). golang-asm
	// resolves obj.TYPE_BRANCH targets from the Prog.To.Val pointer once
	// set; ResolveLabels fills in every pending branch once all labels
	// have been placed.
	bd.pending = append(bd.pending, pendingBranch{prog: p, label: label})
}

type pendingBranch struct {
	prog  *obj.Prog
	label string
}

// ResolveLabels must be called once, after every label referenced by a
// jump has been placed via Label, and before Assemble.
func (bd *Builder) ResolveLabels() error {
	for _, pb := range bd.pending {
		target, ok := bd.labels[pb.label]
		if !ok {
			return fmt.Errorf("native: unresolved label %q", pb.label)
		}
		pb.prog.To.Val = target
	}
	bd.pending = nil
	return nil
}

// EmitJump emits an unconditional jump to label.
func (bd *Builder) EmitJump(label string) {
	p := bd.prog()
	p.As = obj.AJMP
	p.To.Type = obj.TYPE_BRANCH
	bd.b.AddInstruction(p)
	bd.pending = append(bd.pending, pendingBranch{prog: p, label: label})
}

// EmitReturn emits the block-ending return to the Invoke trampoline.
func (bd *Builder) EmitReturn() {
	p := bd.prog()
	p.As = obj.ARET
	bd.b.AddInstruction(p)
}

// EmitJumpToRegister emits an indirect jump through reg, used for
// absolute-address trampolines (invalidation patches, stub rewrites)
// where the target is only known as a runtime address, not a label.
func (bd *Builder) EmitJumpToRegister(reg int16) {
	p := bd.prog()
	p.As = obj.AJMP
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	bd.b.AddInstruction(p)
}

// EmitSideExit appends a cold-path sequence to the current instruction
// stream: a label definition followed by returning reasonCode as the
// Invoke result. Guard emitters in package codegen defer these to the end
// of a block's hot path and jump to the label on guard failure.
func (bd *Builder) EmitSideExit(label string, reasonCode int64) {
	bd.Label(label)
	bd.EmitMoveImm64(x86.REG_AX, reasonCode)
	bd.EmitReturn()
}

// BuildReturnConstant assembles a standalone instruction sequence that
// returns v as the Invoke result. It is used as the precomputed side-exit
// target an invalidated block's entry is rewritten to jump to (§4.G step
// 1): the reason code is whatever SideExitReason the caller encodes as v.
func BuildReturnConstant(v int64) ([]byte, error) {
	bd, err := NewBuilder()
	if err != nil {
		return nil, err
	}
	bd.EmitMoveImm64(x86.REG_AX, v)
	bd.EmitReturn()
	if err := bd.ResolveLabels(); err != nil {
		return nil, err
	}
	return bd.Assemble(), nil
}

// BuildAbsoluteJump assembles a standalone instruction sequence that
// jumps unconditionally to target, the trampoline written over a block's
// entry point by invalidation (§4.G step 1: "overwriting the entry point
// with an unconditional jump to a precomputed side-exit").
func BuildAbsoluteJump(target uintptr) ([]byte, error) {
	bd, err := NewBuilder()
	if err != nil {
		return nil, err
	}
	bd.EmitMoveImm64(regScratch0, int64(target))
	bd.EmitJumpToRegister(regScratch0)
	if err := bd.ResolveLabels(); err != nil {
		return nil, err
	}
	return bd.Assemble(), nil
}
