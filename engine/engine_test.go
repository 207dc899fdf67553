package engine

import (
	"testing"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/codegen"
	"github.com/bbvjit/corevm/jitctx"
)

func simpleBody(name string) *bytecode.Body {
	return &bytecode.Body{
		Name: name,
		Instructions: []bytecode.Instruction{
			{Offset: 0, Op: bytecode.OpPutNil},
			{Offset: 1, Op: bytecode.OpLeave},
		},
	}
}

func TestDispatchCompilesAndReusesAVersion(t *testing.T) {
	e := New(Config{})
	t.Cleanup(func() { e.Alloc.Close() })

	body := simpleBody("greet")
	ctx := jitctx.New()

	block, err := e.Dispatch(body, 0, ctx)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if block == nil {
		t.Fatal("expected a non-nil compiled block")
	}
	if n := e.Registry.Versions(body, 0); n != 1 {
		t.Fatalf("expected exactly one registered version after the first Dispatch, got %d", n)
	}

	again, err := e.Dispatch(body, 0, jitctx.New())
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if again != block {
		t.Fatal("expected an equal-context Dispatch to reuse the already-compiled version")
	}
	if n := e.Registry.Versions(body, 0); n != 1 {
		t.Fatalf("expected no additional version to be compiled on a cache hit, got %d", n)
	}
}

func TestDispatchReusesGeneralizingVersionForNarrowerContext(t *testing.T) {
	e := New(Config{})
	t.Cleanup(func() { e.Alloc.Close() })

	body := simpleBody("add")
	baseCtx := jitctx.New()
	baseCtx.Push(jitctx.Unknown)

	if _, err := e.Dispatch(body, 0, baseCtx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	narrowerCtx := jitctx.New()
	narrowerCtx.ChainDepth = 1
	narrowerCtx.Push(jitctx.Unknown)
	if _, err := e.Dispatch(body, 0, narrowerCtx); err != nil {
		t.Fatalf("Dispatch with a narrower context: %v", err)
	}
	// baseCtx's stack/local types are already Unknown (the weakest
	// possible), so it generalizes narrowerCtx regardless of ChainDepth,
	// and the second Dispatch must be served from the existing version.
	if n := e.Registry.Versions(body, 0); n != 1 {
		t.Fatalf("expected the weaker version to generalize the narrower query, got %d versions", n)
	}
}

func TestResolveStubCompilesAndRecordsTarget(t *testing.T) {
	e := New(Config{})
	t.Cleanup(func() { e.Alloc.Close() })

	body := simpleBody("stubbed")
	stub, err := codegen.NewStub(body, 0, jitctx.New(), e.Alloc)
	if err != nil {
		t.Fatalf("NewStub: %v", err)
	}
	if _, ok := stub.Target(); ok {
		t.Fatal("a freshly built stub should have no resolved target yet")
	}

	block, err := e.ResolveStub(stub, nil)
	if err != nil {
		t.Fatalf("ResolveStub: %v", err)
	}
	if block == nil {
		t.Fatal("expected a compiled block")
	}
	target, ok := stub.Target()
	if !ok {
		t.Fatal("expected the stub to record a resolved target")
	}
	if target != block {
		t.Fatal("expected the stub's recorded target to be the block ResolveStub returned")
	}

	again, err := e.ResolveStub(stub, nil)
	if err != nil {
		t.Fatalf("second ResolveStub: %v", err)
	}
	if again != block {
		t.Fatal("expected a second ResolveStub on an already-resolved stub to return the cached target without recompiling")
	}
}

func TestActivateTracingInvalidatesCompiledBlocks(t *testing.T) {
	e := New(Config{})
	t.Cleanup(func() { e.Alloc.Close() })

	// Every compiled block is registered under the tracing assumption; this
	// body's block additionally assumes that Integer#+ is not redefined, so
	// ActivateTracing has to unlink a block that carries other keys too.
	// OpPutFixnum takes one operand word, hence the offsets 0, 2, 4, 5.
	body := &bytecode.Body{
		Name: "traced",
		Instructions: []bytecode.Instruction{
			{Offset: 0, Op: bytecode.OpPutFixnum, Operands: []int64{1}},
			{Offset: 2, Op: bytecode.OpPutFixnum, Operands: []int64{2}},
			{Offset: 4, Op: bytecode.OpPlus},
			{Offset: 5, Op: bytecode.OpLeave},
		},
	}
	block, err := e.Dispatch(body, 0, jitctx.New())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	e.ActivateTracing()

	if n := e.Registry.Versions(body, 0); n != 0 {
		t.Fatalf("expected ActivateTracing to unlink every compiled block, got %d remaining versions", n)
	}
	_ = block
}
