// Package version implements the block-version registry: component C of
// the design (§3 "Compiled block", §4.C). It maps (bytecode body, bytecode
// offset) pairs to the set of compiled versions produced for that site, and
// implements the lookup preference order and chain-depth limits that bound
// per-site code growth.
package version

import (
	"sync"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/jitctx"
)

// Block is the minimal view the registry needs of a compiled block; package
// codegen's concrete CompiledBlock type satisfies it. Keeping this an
// interface (rather than importing codegen directly) avoids a dependency
// cycle, since codegen itself depends on this package to look up and
// register versions.
type Block interface {
	// EntryContext is the context shape this block was compiled against.
	EntryContext() *jitctx.Context
}

// SiteKind selects which chain-depth limit (§4.C) applies to a guard site.
type SiteKind uint8

const (
	SiteGenericSend SiteKind = iota
	SiteIVarGetter
	SiteIndexAccess
)

// ChainLimit returns the configured maximum chain depth for a site kind,
// per §4.C's examples ("5 for generic sends, 10 for instance-variable
// getters, 2 for array/hash index").
func ChainLimit(kind SiteKind) int {
	switch kind {
	case SiteIVarGetter:
		return 10
	case SiteIndexAccess:
		return 2
	default:
		return 5
	}
}

// key identifies a versioning site: one bytecode body at one offset.
type key struct {
	body   *bytecode.Body
	offset int64
}

type slot struct {
	ctx   *jitctx.Context
	block Block
}

// Registry owns every compiled block produced by the engine, keyed by
// (body, offset), and is mutated only under the host's VM lock (§5).
type Registry struct {
	mu    sync.Mutex
	table map[key][]slot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{table: make(map[key][]slot)}
}

// Lookup implements §4.C: an exact context match if present; otherwise the
// first block whose context is a strict generalization of query; otherwise
// nothing. found is false in the "otherwise nothing" case, signaling the
// caller (package engine's dispatch) to compile a fresh version.
func (r *Registry) Lookup(body *bytecode.Body, offset int64, query *jitctx.Context) (Block, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := r.table[key{body, offset}]
	var generalization Block
	for _, s := range slots {
		if s.ctx.Equal(query) {
			return s.block, true
		}
		if generalization == nil && s.ctx.Generalizes(query) {
			generalization = s.block
		}
	}
	if generalization != nil {
		return generalization, true
	}
	return nil, false
}

// Add appends a newly compiled block to the list for (body, offset). Per
// §4.C "When a new block is compiled, it is appended to the list" -- older
// versions are never reordered or evicted by this package; eviction is an
// invalidation concern (package invalidate).
func (r *Registry) Add(body *bytecode.Body, offset int64, block Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{body, offset}
	r.table[k] = append(r.table[k], slot{ctx: block.EntryContext(), block: block})
}

// Unlink removes block from (body, offset)'s version list so future
// lookups never find it again, per §4.G invalidation step 2 ("Unlinking
// the block from C's registry").
func (r *Registry) Unlink(body *bytecode.Body, offset int64, block Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{body, offset}
	slots := r.table[k]
	for i, s := range slots {
		if s.block == block {
			r.table[k] = append(slots[:i], slots[i+1:]...)
			return
		}
	}
}

// Versions returns the number of compiled versions currently registered
// for (body, offset), used by tests to check §8 invariant 2 ("Chain-guard
// convergence"): it must never exceed ChainLimit(kind)+1.
func (r *Registry) Versions(body *bytecode.Body, offset int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table[key{body, offset}])
}

// NextChainContext implements the chain-guard recipe of §4.C and
// original_source/yjit_codegen.c's jit_chain_guard: it copies the
// *starting* (pre-narrowing) context -- not the partially-narrowed context
// at the point of the failing guard -- bumps ChainDepth, and returns
// ok=false once the site's configured limit has been reached, at which
// point the caller must fall through to a plain side-exit instead of
// enqueueing another version.
func NextChainContext(startingCtx *jitctx.Context, kind SiteKind) (next *jitctx.Context, ok bool) {
	if startingCtx.ChainDepth >= ChainLimit(kind) {
		return nil, false
	}
	next = startingCtx.Dup()
	next.ChainDepth++
	return next, true
}
