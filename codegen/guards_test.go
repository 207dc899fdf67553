package codegen

import (
	"testing"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/version"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	bd, err := native.NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	alloc := native.NewAllocator()
	t.Cleanup(func() { alloc.Close() })
	ctx := jitctx.New()
	return &Compiler{
		body:     &bytecode.Body{Name: "guard-fixture"},
		ctx:      ctx,
		entryCtx: ctx,
		bd:       bd,
		alloc:    alloc,
	}
}

func TestGuardFixnumRecordsColdPath(t *testing.T) {
	c := newTestCompiler(t)
	c.guardFixnum(native.ScratchRegister)
	if len(c.coldPaths) != 1 {
		t.Fatalf("expected one cold path, got %d", len(c.coldPaths))
	}
	if c.coldPaths[0].reason != ReasonFixnumGuardFailed {
		t.Fatalf("expected ReasonFixnumGuardFailed, got %v", c.coldPaths[0].reason)
	}
}

func TestChainGuardAtFallsBackToSideExitAtLimit(t *testing.T) {
	c := newTestCompiler(t)
	c.entryCtx.ChainDepth = version.ChainLimit(version.SiteIndexAccess)

	label, err := c.chainGuardAt(c.entryCtx, version.SiteIndexAccess, ReasonClassGuardFailed)
	if err != nil {
		t.Fatalf("chainGuardAt: %v", err)
	}
	if label == "" {
		t.Fatal("expected a label even on the side-exit path")
	}
	if len(c.coldPaths) != 1 {
		t.Fatalf("expected one cold path, got %d", len(c.coldPaths))
	}
	if c.coldPaths[0].target != nil {
		t.Fatal("expected a plain side exit, not a stub target, once the chain limit is reached")
	}
	if c.coldPaths[0].reason != ReasonClassGuardFailed {
		t.Fatalf("expected ReasonClassGuardFailed, got %v", c.coldPaths[0].reason)
	}
}

func TestChainGuardAtBuildsStubBelowLimit(t *testing.T) {
	c := newTestCompiler(t)
	c.entryCtx.ChainDepth = 0

	label, err := c.chainGuardAt(c.entryCtx, version.SiteIndexAccess, ReasonClassGuardFailed)
	if err != nil {
		t.Fatalf("chainGuardAt: %v", err)
	}
	if label == "" {
		t.Fatal("expected a label")
	}
	if len(c.coldPaths) != 1 {
		t.Fatalf("expected one cold path, got %d", len(c.coldPaths))
	}
	if c.coldPaths[0].target == nil {
		t.Fatal("expected a stub target below the chain limit")
	}
}
