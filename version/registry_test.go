package version

import (
	"testing"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/value"
)

type fakeBlock struct{ ctx *jitctx.Context }

func (f *fakeBlock) EntryContext() *jitctx.Context { return f.ctx }

func TestLookupExactMatch(t *testing.T) {
	r := NewRegistry()
	body := &bytecode.Body{Name: "m"}
	ctx := jitctx.New()
	ctx.Push(jitctx.TypeOf(value.KindFixnum))
	b := &fakeBlock{ctx: ctx}
	r.Add(body, 10, b)

	query := jitctx.New()
	query.Push(jitctx.TypeOf(value.KindFixnum))
	got, ok := r.Lookup(body, 10, query)
	if !ok || got != b {
		t.Fatalf("expected exact match to find the registered block")
	}
}

func TestLookupGeneralization(t *testing.T) {
	r := NewRegistry()
	body := &bytecode.Body{Name: "m"}
	generic := jitctx.New()
	generic.Push(jitctx.Unknown)
	b := &fakeBlock{ctx: generic}
	r.Add(body, 0, b)

	query := jitctx.New()
	query.Push(jitctx.TypeOf(value.KindFixnum))
	got, ok := r.Lookup(body, 0, query)
	if !ok || got != b {
		t.Fatalf("expected a generalizing block to be reused for a narrower query")
	}
}

func TestLookupMiss(t *testing.T) {
	r := NewRegistry()
	body := &bytecode.Body{Name: "m"}
	_, ok := r.Lookup(body, 0, jitctx.New())
	if ok {
		t.Fatalf("expected a miss on an empty registry")
	}
}

func TestUnlinkRemovesBlock(t *testing.T) {
	r := NewRegistry()
	body := &bytecode.Body{Name: "m"}
	b := &fakeBlock{ctx: jitctx.New()}
	r.Add(body, 0, b)
	r.Unlink(body, 0, b)
	if n := r.Versions(body, 0); n != 0 {
		t.Errorf("Versions after Unlink = %d, want 0", n)
	}
}

func TestChainDepthLimit(t *testing.T) {
	ctx := jitctx.New()
	ctx.ChainDepth = ChainLimit(SiteIndexAccess)
	_, ok := NextChainContext(ctx, SiteIndexAccess)
	if ok {
		t.Errorf("expected chain depth at the limit to refuse a further version")
	}

	ctx2 := jitctx.New()
	next, ok := NextChainContext(ctx2, SiteGenericSend)
	if !ok || next.ChainDepth != 1 {
		t.Errorf("expected a fresh context to be chainable at depth 1, got ok=%v next=%+v", ok, next)
	}
}
