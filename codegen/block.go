package codegen

import (
	"sync"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/version"
)

// CompiledBlock is one versioned, executable basic block. It satisfies
// version.Block (EntryContext) so the registry can hold it without
// importing this package, and invalidate.Invalidatable (InvalidateEntry)
// so package invalidate can force it out of the execution path without
// importing this package either -- both are the narrow-interface seams
// documented in those packages' own doc comments.
type CompiledBlock struct {
	mu sync.Mutex

	body     *bytecode.Body
	offset   int64
	entryCtx *jitctx.Context

	unit  *native.CodeUnit
	exits []SideExit

	// sideExit is the precomputed trampoline InvalidateEntry rewrites the
	// block's entry to jump to. It is built once at compile time (not
	// lazily, on invalidation) per §4.G step 1's "precomputed side-exit".
	sideExit *native.CodeUnit

	alloc    *native.Allocator
	registry *version.Registry

	invalidated bool
}

// EntryContext implements version.Block.
func (b *CompiledBlock) EntryContext() *jitctx.Context { return b.entryCtx }

// Addr returns the address of the block's first instruction, the
// JIT-to-JIT jump target call-site lowering (package callsite) links
// against.
func (b *CompiledBlock) Addr() uintptr { return b.unit.Addr() }

// Exits returns the side-exit descriptors recorded for this block, for
// diagnostics and tests.
func (b *CompiledBlock) Exits() []SideExit { return b.exits }

// InvalidateEntry implements invalidate.Invalidatable: it overwrites the
// block's entry point in place with an unconditional jump to the side-exit
// unit built at compile time (only the jump is assembled here), and
// unlinks the block from the version
// registry, per §4.G steps 1-2. It is safe to call more than once; only
// the first call patches memory or touches the registry.
func (b *CompiledBlock) InvalidateEntry() {
	b.mu.Lock()
	if b.invalidated {
		b.mu.Unlock()
		return
	}
	b.invalidated = true
	b.mu.Unlock()

	// The jump assembled here targets b.sideExit, the executable unit
	// finalize built at compile time; only these few bytes are produced
	// on invalidation.
	trampoline, err := native.BuildAbsoluteJump(b.sideExit.Addr())
	if err != nil {
		// Patching is best-effort: if assembling the trampoline itself
		// fails, the block is still unlinked below, so no future lookup
		// will find it; an in-flight caller runs the block to completion.
		trampoline = nil
	}
	if trampoline != nil {
		_ = b.alloc.Patch(b.unit.Addr(), trampoline)
	}
	if b.registry != nil {
		b.registry.Unlink(b.body, b.offset, b)
	}
}

// Stub is a short, pre-compiled trampoline planted at a not-yet-specialized
// branch edge or call-site continuation: on first execution it invokes the
// compiler to produce the real target and rewrites its own call site to
// skip itself thereafter (§3 glossary "stub").
type Stub struct {
	mu      sync.Mutex
	body    *bytecode.Body
	offset  int64
	ctx     *jitctx.Context
	unit    *native.CodeUnit
	resolved *CompiledBlock
}

// NewStub loads a landing-pad unit that, until Resolve is called, simply
// returns control to its caller (the caller is expected to detect an
// unresolved stub itself and invoke the compiler -- Resolve is what
// records the result once it has).
func NewStub(body *bytecode.Body, offset int64, ctx *jitctx.Context, alloc *native.Allocator) (*Stub, error) {
	unit, err := alloc.Load([]byte{0xC3}) // RET: a stub is reached, never executed past
	if err != nil {
		return nil, err
	}
	return &Stub{body: body, offset: offset, ctx: ctx, unit: unit}, nil
}

// Addr returns the stub's landing-pad address.
func (s *Stub) Addr() uintptr { return s.unit.Addr() }

// Body, Offset and Context expose the captured successor site a stub was
// built against, so that whatever re-enters the compiler on a stub hit
// (package engine) has what §3's glossary entry calls "the captured
// successor context and bytecode offset" without needing its own copy.
func (s *Stub) Body() *bytecode.Body     { return s.body }
func (s *Stub) Offset() int64            { return s.offset }
func (s *Stub) Context() *jitctx.Context { return s.ctx }

// Resolve records the block this stub compiled to on first hit, per the
// glossary's "rewrites the caller's branch to skip the stub on all future
// executions" -- the actual branch rewrite is performed by whichever
// emitter owns the jump instruction (package codegen's branch/call
// emitters), using the address Resolve makes available via Target.
func (s *Stub) Resolve(b *CompiledBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = b
}

// Target returns the resolved block and true, or (nil, false) if this
// stub has not yet been hit.
func (s *Stub) Target() (*CompiledBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved == nil {
		return nil, false
	}
	return s.resolved, true
}
