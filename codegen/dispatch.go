// Package codegen implements block compilation: the fixed opcode dispatch
// table (§4.D) and the instruction emitters that walk it (§4.E). It is
// components D and E of the design.
package codegen

import (
	"fmt"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/classes"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/invalidate"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/version"
)

// EmitResult is the three-way outcome an emitter reports back to the
// dispatch loop, per §4.D.
type EmitResult uint8

const (
	// KeepCompiling: fall through to the next bytecode instruction.
	KeepCompiling EmitResult = iota
	// EndBlock: the emitter already emitted a terminating branch or
	// JIT-to-JIT jump; stop walking instructions.
	EndBlock
	// CannotCompile: abort this block; the caller emits a side-exit at
	// the current PC and finalizes.
	CannotCompile
)

// Emitter compiles one instruction against the compiler's current state.
type Emitter func(c *Compiler, instr bytecode.Instruction) EmitResult

// dispatch is the fixed opcode-to-emitter table of §4.D. Opcodes absent
// from this map are cannot-compile by construction ("If no emitter is
// registered, the compiler behaves as cannot compile for that opcode").
var dispatch = map[bytecode.Opcode]Emitter{
	bytecode.OpDup:          emitDup,
	bytecode.OpDupN:         emitDupN,
	bytecode.OpSwap:         emitSwap,
	bytecode.OpSetN:         emitSetN,
	bytecode.OpTopN:         emitTopN,
	bytecode.OpPop:          emitPop,
	bytecode.OpAdjustStack:  emitAdjustStack,
	bytecode.OpPutNil:       emitPutNil,
	bytecode.OpPutTrue:      emitPutTrue,
	bytecode.OpPutFalse:     emitPutFalse,
	bytecode.OpPutFixnum:    emitPutFixnum,
	bytecode.OpPutObject:    emitPutObject,
	bytecode.OpPutString:    emitPutString,
	bytecode.OpGetLocal:     emitGetLocal,
	bytecode.OpSetLocal:     emitSetLocal,
	bytecode.OpGetIVar:      emitGetIVar,
	bytecode.OpLt:           emitComparison,
	bytecode.OpLe:           emitComparison,
	bytecode.OpGt:           emitComparison,
	bytecode.OpGe:           emitComparison,
	bytecode.OpEq:           emitEqual,
	bytecode.OpPlus:         emitArith,
	bytecode.OpMinus:        emitArith,
	bytecode.OpARef:         emitARef,
	bytecode.OpBranchIfTruthy: emitBranch,
	bytecode.OpBranchIfFalsy:  emitBranch,
	bytecode.OpBranchIfNil:    emitBranch,
	bytecode.OpJump:           emitBranch,
	bytecode.OpLeave:             emitLeave,
	bytecode.OpSend:              emitSend,
	bytecode.OpSendWithoutBlock:  emitSend,
	bytecode.OpInvokeSuper:       emitInvokeSuper,
}

// Compiler holds every piece of state one block compilation threads
// through its emitters: the builder accumulating machine code, the
// evolving compile-time context, and read-only handles to the subsystems
// emitters consult (the class hierarchy for guards, the version registry
// for chain-guard recursion, the assumption tracker for registration).
type Compiler struct {
	body     *bytecode.Body
	ctx      *jitctx.Context
	entryCtx *jitctx.Context // the context this version was keyed by, for chainGuardAt
	bd       *native.Builder
	hier   *classes.Hierarchy
	tracker *invalidate.Tracker
	registry *version.Registry
	alloc    *native.Allocator

	// currentMethod is the method entry this block's body belongs to, when
	// compiling a method body (nil for top-level/block iseqs). Consulted
	// only by invoke-super lowering (package callsite), which needs it to
	// guard against a rebound method entry and to pick the superclass
	// search origin.
	currentMethod *classes.MethodEntry

	pc           int64
	exits        []SideExit
	coldPaths    []coldPath
	embeddedRefs []int64
	assumptions  []invalidate.Key
	labelN       int
}

// CurrentMethod returns the method entry this compilation is lowering a
// body for, or nil outside of a method context.
func (c *Compiler) CurrentMethod() *classes.MethodEntry { return c.currentMethod }

// assume records that the block being compiled depends on key. The
// dependency is only registered against the tracker once the
// CompiledBlock itself exists (CompileBlock, after finalize returns),
// since invalidate.Tracker.Depend needs a concrete Invalidatable.
func (c *Compiler) assume(key invalidate.Key) {
	c.assumptions = append(c.assumptions, key)
}

// coldPath is a deferred cold-path instruction sequence emitted once,
// after a block's hot path, for every guard that failed to prove its
// check statically. Exactly one of reason/target applies: a guard either
// reconstructs interpreter state and returns a reason code, or (chain
// guards only) jumps to a narrower stub instead.
type coldPath struct {
	label  string
	reason SideExitReason
	target *uintptr
}

// Context returns the compiler's current, mutable compile-time context,
// for emitters that need to push/pop/upgrade it.
func (c *Compiler) Context() *jitctx.Context { return c.ctx }

// Builder returns the instruction builder emitters append machine code to.
func (c *Compiler) Builder() *native.Builder { return c.bd }

// Hierarchy returns the class subsystem, for guards that need ancestor
// walks or method lookup (e.g. call-site lowering in package callsite).
func (c *Compiler) Hierarchy() *classes.Hierarchy { return c.hier }

// Tracker returns the assumption tracker. Emitters record dependencies
// through assume(), which finalizeAndDepend registers with the tracker.
func (c *Compiler) Tracker() *invalidate.Tracker { return c.tracker }

// PC returns the bytecode offset of the instruction currently being
// compiled.
func (c *Compiler) PC() int64 { return c.pc }

// newLabel returns a fresh, block-unique label name for forward branches
// (guard failure targets, stub landing pads).
func (c *Compiler) newLabel(prefix string) string {
	c.labelN++
	return fmt.Sprintf("%s_%d", prefix, c.labelN)
}

// sideExitNow records a side-exit descriptor at the compiler's current PC.
// The dispatch loop calls it when an opcode has no emitter or an emitter
// returned CannotCompile; it emits no runtime branch of its own.
func (c *Compiler) sideExitNow(reason SideExitReason) {
	c.exits = append(c.exits, SideExit{PC: c.pc, Reason: reason})
}

// CompileBlock implements the dispatch loop of §4.D: fetch, consult the
// table, invoke, act on the three-way result. startPC is the bytecode
// offset this version begins at; entryCtx is the context it is keyed by
// (the versioning key package version uses for lookup).
func CompileBlock(body *bytecode.Body, startPC int64, entryCtx *jitctx.Context, hier *classes.Hierarchy, tracker *invalidate.Tracker, registry *version.Registry, alloc *native.Allocator) (*CompiledBlock, error) {
	return CompileMethodBlock(body, startPC, entryCtx, hier, tracker, registry, alloc, nil)
}

// CompileMethodBlock is CompileBlock additionally told which method entry
// owns body, for invoke-super lowering within a method context.
func CompileMethodBlock(body *bytecode.Body, startPC int64, entryCtx *jitctx.Context, hier *classes.Hierarchy, tracker *invalidate.Tracker, registry *version.Registry, alloc *native.Allocator, currentMethod *classes.MethodEntry) (*CompiledBlock, error) {
	bd, err := native.NewBuilder()
	if err != nil {
		return nil, err
	}
	c := &Compiler{
		body:          body,
		ctx:           entryCtx.Dup(),
		entryCtx:      entryCtx,
		bd:            bd,
		hier:          hier,
		tracker:       tracker,
		registry:      registry,
		alloc:         alloc,
		pc:            startPC,
		currentMethod: currentMethod,
	}

	pc := startPC
	for {
		instr, ok := body.InstructionAt(pc)
		if !ok {
			c.sideExitNow(ReasonUnsupportedOpcode)
			break
		}
		c.pc = pc

		emit, registered := dispatch[instr.Op]
		if !registered {
			c.sideExitNow(ReasonUnsupportedOpcode)
			break
		}

		switch emit(c, instr) {
		case EndBlock:
			return c.finalizeAndDepend(body, startPC, entryCtx, alloc)
		case CannotCompile:
			c.sideExitNow(ReasonUnsupportedOpcode)
			return c.finalizeAndDepend(body, startPC, entryCtx, alloc)
		default: // KeepCompiling
			pc = body.NextPC(pc)
		}
	}
	return c.finalizeAndDepend(body, startPC, entryCtx, alloc)
}

// finalizeAndDepend wraps finalize with the deferred assumption
// registration: emitters can only call Tracker().Depend with a concrete
// Invalidatable once the CompiledBlock exists, so they buffer keys via
// assume() instead and this registers every one of them once finalize
// returns a real block.
func (c *Compiler) finalizeAndDepend(body *bytecode.Body, startPC int64, entryCtx *jitctx.Context, alloc *native.Allocator) (*CompiledBlock, error) {
	block, err := c.finalize(body, startPC, entryCtx, alloc)
	if err != nil {
		return nil, err
	}
	for _, key := range c.assumptions {
		c.tracker.Depend(key, block)
	}
	// Every block depends on tracing being off, whether or not an emitter
	// buffered that key, so tracing activation reaches every compiled block.
	c.tracker.Depend(invalidate.Key{Kind: invalidate.AssumeTracingOff}, block)
	return block, nil
}

// finalize assembles the accumulated instruction stream, loads it into
// executable memory, and wraps it as a CompiledBlock.
func (c *Compiler) finalize(body *bytecode.Body, startPC int64, entryCtx *jitctx.Context, alloc *native.Allocator) (*CompiledBlock, error) {
	for _, cp := range c.coldPaths {
		if cp.target != nil {
			c.bd.Label(cp.label)
			c.bd.EmitMoveImm64(native.ScratchRegister, int64(*cp.target))
			c.bd.EmitJumpToRegister(native.ScratchRegister)
			continue
		}
		c.bd.EmitSideExit(cp.label, int64(cp.reason))
		c.exits = append(c.exits, SideExit{PC: c.pc, Reason: cp.reason})
	}

	if err := c.bd.ResolveLabels(); err != nil {
		return nil, err
	}
	code := c.bd.Assemble()
	if len(code) == 0 {
		// A block that emitted nothing at all (immediate cannot-compile on
		// its very first instruction) still needs a runnable side-exit
		// trampoline so the caller always gets back a valid entry point.
		code = []byte{0xC3} // RET; the interpreter is re-entered by the caller instead
	}
	unit, err := alloc.Load(code)
	if err != nil {
		return nil, fmt.Errorf("codegen: %w: %v", ErrEmitBufferExhausted, err)
	}

	reason := ReasonUnsupportedOpcode
	if n := len(c.exits); n > 0 {
		reason = c.exits[n-1].Reason
	}
	exitCode, err := native.BuildReturnConstant(int64(reason))
	if err != nil {
		return nil, err
	}
	exitUnit, err := alloc.Load(exitCode)
	if err != nil {
		return nil, fmt.Errorf("codegen: %w: %v", ErrEmitBufferExhausted, err)
	}

	return &CompiledBlock{
		body:     body,
		offset:   startPC,
		entryCtx: entryCtx.Dup(),
		unit:     unit,
		exits:    c.exits,
		sideExit: exitUnit,
		alloc:    alloc,
		registry: c.registry,
	}, nil
}
