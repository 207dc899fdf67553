// Package engine is the top-level wiring §2's data-flow paragraph
// describes: the entry point the (externally owned) interpreter calls into
// when no compiled version matches the current context, and the stub
// protocol's re-entry point when generated code lands on an unresolved
// stub. It owns no compilation logic of its own -- every operation here is
// a thin sequencing of the component packages (A, C, D/E, F, G).
package engine

import (
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/classes"
	"github.com/bbvjit/corevm/codegen"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/invalidate"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/version"
)

// Config collects the engine's construction-time knobs. Apart from the
// PrintDebugInfo logging switches in packages bytecode and classes, there
// are no package-level flags or environment variables in this module;
// everything configurable is threaded through here and handed to New.
type Config struct {
	// SingleRactorMode seeds the tracker's initial single-ractor flag.
	// Defaults to true (the steady-state most hosts run under) when a
	// zero Config is passed, since invalidate.NewTracker already starts
	// there and Config only needs to express the *non-default* case.
	SingleRactorMode *bool
}

// Engine owns one instance of every component the compiler threads
// through: the class hierarchy (A), the version registry (C), and the
// assumption tracker (G), plus the executable-memory allocator (D/E/F's
// shared emit buffer). One Engine corresponds to one host VM instance.
type Engine struct {
	Hierarchy *classes.Hierarchy
	Registry  *version.Registry
	Tracker   *invalidate.Tracker
	Alloc     *native.Allocator
}

// New wires the components together: the hierarchy's mutation
// notifications subscribe the tracker (§4.A's "mutation-notification
// contract with G"), and the tracker's freeze hook points at the
// allocator's FreezeAll (§4.G's "the invalidated range of the code-emit
// buffer is then marked frozen").
func New(cfg Config) *Engine {
	hier := classes.NewHierarchy()
	tracker := invalidate.NewTracker()
	alloc := native.NewAllocator()

	if cfg.SingleRactorMode != nil {
		tracker.SetSingleRactorMode(*cfg.SingleRactorMode)
	}
	tracker.SetFreezeHook(alloc.FreezeAll)
	hier.Subscribe(tracker)

	return &Engine{
		Hierarchy: hier,
		Registry:  version.NewRegistry(),
		Tracker:   tracker,
		Alloc:     alloc,
	}
}

// Dispatch implements §2's data-flow paragraph: "when the interpreter is
// about to execute a bytecode instruction for which no compiled version
// matches the current context, it invokes the block compiler". It first
// consults the registry (an exact or generalizing match short-circuits
// compilation entirely); on a miss it compiles a fresh version, registers
// it, and returns it -- "linked into the interpreter's next-instruction
// dispatch" is exactly the caller reading the returned block's Addr().
func (e *Engine) Dispatch(body *bytecode.Body, pc int64, ctx *jitctx.Context) (*codegen.CompiledBlock, error) {
	return e.dispatch(body, pc, ctx, nil)
}

// DispatchMethod is Dispatch, additionally told which method entry owns
// body, required so that an invoke-super inside it can guard against a
// rebound method entry and pick its superclass search origin (§4.F).
func (e *Engine) DispatchMethod(body *bytecode.Body, pc int64, ctx *jitctx.Context, method *classes.MethodEntry) (*codegen.CompiledBlock, error) {
	return e.dispatch(body, pc, ctx, method)
}

func (e *Engine) dispatch(body *bytecode.Body, pc int64, ctx *jitctx.Context, method *classes.MethodEntry) (*codegen.CompiledBlock, error) {
	if existing, ok := e.lookup(body, pc, ctx); ok {
		return existing, nil
	}
	block, err := codegen.CompileMethodBlock(body, pc, ctx, e.Hierarchy, e.Tracker, e.Registry, e.Alloc, method)
	if err != nil {
		return nil, err
	}
	e.Registry.Add(body, pc, block)
	return block, nil
}

// lookup consults the version registry, narrowing version.Block (the
// registry's own minimal view) back to the concrete *codegen.CompiledBlock
// callers actually need -- the two packages are deliberately kept from
// importing each other (see version.Block's doc comment), so this
// type-assertion seam lives here instead.
func (e *Engine) lookup(body *bytecode.Body, pc int64, ctx *jitctx.Context) (*codegen.CompiledBlock, bool) {
	blk, ok := e.Registry.Lookup(body, pc, ctx)
	if !ok {
		return nil, false
	}
	cb, ok := blk.(*codegen.CompiledBlock)
	return cb, ok
}

// ResolveStub implements the glossary's stub protocol: "a short native
// snippet that, when first entered, calls back into the compiler with the
// captured successor context and bytecode offset, compiles the successor
// block, then rewrites its own branch site to point directly at the new
// block." The interpreter detects a stub hit (its landing pad never
// executes past a bare return) and calls this with the stub and, if the
// stub's site is inside a method body, the owning method entry; the actual
// branch rewrite remains the calling emitter's responsibility, exactly as
// package codegen's chain-guard and call-site lowering already arrange via
// Stub.Resolve/Target.
func (e *Engine) ResolveStub(stub *codegen.Stub, method *classes.MethodEntry) (*codegen.CompiledBlock, error) {
	if block, ok := stub.Target(); ok {
		return block, nil
	}
	block, err := e.dispatch(stub.Body(), stub.Offset(), stub.Context(), method)
	if err != nil {
		return nil, err
	}
	stub.Resolve(block)
	return block, nil
}

// ActivateTracing flips the global tracing-active flag and patches every
// compiled block's entry to side-exit, per §4.G's special case; code
// already running inside a block exits at its next native-call tracing
// check. Exposed on Engine since it is the documented host-facing
// seam (the interpreter calls this when tracing is turned on), not an
// internal compiler decision.
func (e *Engine) ActivateTracing() {
	e.Tracker.ActivateTracing()
}
