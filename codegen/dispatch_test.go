package codegen

import (
	"testing"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/classes"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/invalidate"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/version"
)

func newTestCompileFixtures(t *testing.T) (*classes.Hierarchy, *invalidate.Tracker, *version.Registry, *native.Allocator) {
	t.Helper()
	alloc := native.NewAllocator()
	t.Cleanup(func() { alloc.Close() })
	return classes.NewHierarchy(), invalidate.NewTracker(), version.NewRegistry(), alloc
}

func TestCompileBlockSimpleLeave(t *testing.T) {
	body := &bytecode.Body{
		Name: "simple",
		Instructions: []bytecode.Instruction{
			{Offset: 0, Op: bytecode.OpPutNil},
			{Offset: 1, Op: bytecode.OpLeave},
		},
	}
	hier, tracker, registry, alloc := newTestCompileFixtures(t)
	ctx := jitctx.New()

	block, err := CompileBlock(body, 0, ctx, hier, tracker, registry, alloc)
	if err != nil {
		t.Fatalf("CompileBlock: %v", err)
	}
	if block == nil {
		t.Fatal("expected a non-nil compiled block")
	}
	// emitLeave's interrupt check is the only side exit a fully-supported
	// block of this shape records.
	if exits := block.Exits(); len(exits) != 1 || exits[0].Reason != ReasonInterruptPending {
		t.Fatalf("expected exactly the leave's interrupt-check side exit, got %v", exits)
	}
	if block.Addr() == 0 {
		t.Fatal("expected a non-zero entry address")
	}
}

func TestCompileBlockUnsupportedOpcodeSideExits(t *testing.T) {
	body := &bytecode.Body{
		Name: "unsupported",
		Instructions: []bytecode.Instruction{
			// OpSetIVar has no registered emitter (this module only supports
			// instance-variable reads, not writes); it stays unregistered in
			// dispatch so this opcode, not OpSend, is what exercises the
			// "no emitter registered at all" path now that OpSend has one.
			{Offset: 0, Op: bytecode.OpSetIVar, Operands: []int64{0}},
		},
	}
	hier, tracker, registry, alloc := newTestCompileFixtures(t)
	ctx := jitctx.New()

	block, err := CompileBlock(body, 0, ctx, hier, tracker, registry, alloc)
	if err != nil {
		t.Fatalf("CompileBlock: %v", err)
	}
	exits := block.Exits()
	if len(exits) != 1 {
		t.Fatalf("expected exactly one recorded side exit, got %d", len(exits))
	}
	if exits[0].Reason != ReasonUnsupportedOpcode {
		t.Fatalf("expected ReasonUnsupportedOpcode, got %v", exits[0].Reason)
	}
}

func TestCompileBlockSendWithNoCallInfoSideExits(t *testing.T) {
	body := &bytecode.Body{
		Name: "bad-send",
		Instructions: []bytecode.Instruction{
			// OpSend is registered, but this call-info id is out of range,
			// so emitSend itself refuses rather than dispatch lacking an
			// emitter -- both report the same ReasonUnsupportedOpcode exit
			// since CompileMethodBlock's CannotCompile branch does not
			// distinguish why an emitter refused.
			{Offset: 0, Op: bytecode.OpSend, Operands: []int64{0}},
		},
	}
	hier, tracker, registry, alloc := newTestCompileFixtures(t)
	ctx := jitctx.New()

	block, err := CompileBlock(body, 0, ctx, hier, tracker, registry, alloc)
	if err != nil {
		t.Fatalf("CompileBlock: %v", err)
	}
	exits := block.Exits()
	if len(exits) != 1 {
		t.Fatalf("expected exactly one recorded side exit, got %d", len(exits))
	}
	if exits[0].Reason != ReasonUnsupportedOpcode {
		t.Fatalf("expected ReasonUnsupportedOpcode, got %v", exits[0].Reason)
	}
}

func TestCompileBlockEmptyInstructionStreamStillProducesRunnableUnit(t *testing.T) {
	body := &bytecode.Body{Name: "empty"}
	hier, tracker, registry, alloc := newTestCompileFixtures(t)

	block, err := CompileBlock(body, 0, jitctx.New(), hier, tracker, registry, alloc)
	if err != nil {
		t.Fatalf("CompileBlock: %v", err)
	}
	if block.Addr() == 0 {
		t.Fatal("expected a fallback runnable unit even with nothing to compile")
	}
}
