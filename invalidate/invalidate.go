// Package invalidate tracks which compiled blocks depend on which runtime
// assumptions, and invalidates them when the class subsystem (package
// classes) or the host reports a violation. This is component G (§4.G).
package invalidate

import (
	"sync"

	"github.com/bbvjit/corevm/classes"
)

// AssumptionKind enumerates the five trackable assumption families of
// §4.G.
type AssumptionKind uint8

const (
	// AssumeMethodLookupStable: (class, method-id) -> method-entry.
	AssumeMethodLookupStable AssumptionKind = iota
	// AssumeBasicOpNotRedefined: (type-tag, operation-index) pairs.
	AssumeBasicOpNotRedefined
	// AssumeSingleRactorMode: a single, global boolean assumption.
	AssumeSingleRactorMode
	// AssumeConstantTableGeneration: unchanged since compile time.
	AssumeConstantTableGeneration
	// AssumeTracingOff: tracing events are not enabled globally.
	AssumeTracingOff
)

// Key identifies one assumption instance. Not every field is meaningful for
// every Kind; see the AssumptionKind docs above.
type Key struct {
	Kind      AssumptionKind
	ClassName string // AssumeMethodLookupStable
	MethodID  string // AssumeMethodLookupStable
	Tag       string // AssumeBasicOpNotRedefined ("fixnum", "string", ...)
	OpIndex   int    // AssumeBasicOpNotRedefined
}

// Invalidatable is implemented by a compiled block (package codegen). It is
// the hook G uses to force a block's entry to side-exit and to unlink it
// from the version registry, per §4.G steps 1-2.
type Invalidatable interface {
	// InvalidateEntry overwrites the block's entry point with an
	// unconditional jump to its precomputed side-exit, and removes it
	// from the version registry. It must be safe to call more than once.
	InvalidateEntry()
}

// Tracker is the assumption registry. It implements classes.MutationListener
// so that package classes can notify it directly without depending on it.
type Tracker struct {
	mu sync.Mutex

	deps map[Key][]Invalidatable

	// singleRactor and tracing are the two global booleans referenced by
	// §4.G; toggling either may invalidate many blocks at once.
	singleRactor bool
	tracing      bool

	// allBlocks is every block ever registered against any assumption,
	// needed for "Tracing activation is special: it invalidates all
	// blocks" (§4.G), including ones that never depended on
	// AssumeTracingOff.
	allBlocks []Invalidatable

	// onFreeze is invoked once per ActivateTracing to mark the invalidated
	// range of the emit buffer frozen, per §4.G's last sentence. It is a
	// function rather than a concrete allocator type so this package does
	// not need to import internal/native.
	onFreeze func()
}

// NewTracker returns a Tracker with single-ractor mode on and tracing off,
// the steady-state assumption most blocks will be compiled under.
func NewTracker() *Tracker {
	return &Tracker{
		deps:         make(map[Key][]Invalidatable),
		singleRactor: true,
	}
}

// SetFreezeHook registers the callback invoked when tracing activation
// invalidates every block, so the native allocator can mark its emitted
// range frozen (§4.G: "subsequent compilations may still append but not
// overwrite").
func (t *Tracker) SetFreezeHook(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFreeze = f
}

// Depend registers block as depending on the assumption identified by key.
// Package codegen calls it from finalizeAndDepend for each assumption its
// emitters buffered (§4.G "Registration").
func (t *Tracker) Depend(key Key, block Invalidatable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deps[key] = append(t.deps[key], block)
	t.allBlocks = append(t.allBlocks, block)
}

// SingleRactorMode reports whether the host is currently running with a
// single ractor, the precondition constant-inline-cache fast paths demand.
func (t *Tracker) SingleRactorMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.singleRactor
}

// SetSingleRactorMode updates the global single-ractor flag, invalidating
// every block depending on AssumeSingleRactorMode if it transitions from
// true to false.
func (t *Tracker) SetSingleRactorMode(on bool) {
	t.mu.Lock()
	wasOn := t.singleRactor
	t.singleRactor = on
	t.mu.Unlock()
	if wasOn && !on {
		t.invalidateKey(Key{Kind: AssumeSingleRactorMode})
	}
}

// TracingEnabled reports whether tracing events are currently active.
func (t *Tracker) TracingEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracing
}

// ActivateTracing implements §4.G's special case: "it invalidates all
// blocks ... because any future instruction could execute a traced
// event", not just the ones that declared AssumeTracingOff, and then marks
// the invalidated emit range frozen.
func (t *Tracker) ActivateTracing() {
	t.mu.Lock()
	t.tracing = true
	blocks := append([]Invalidatable(nil), t.allBlocks...)
	freeze := t.onFreeze
	t.mu.Unlock()

	for _, b := range blocks {
		b.InvalidateEntry()
	}
	if freeze != nil {
		freeze()
	}
}

// invalidateKey invalidates every block depending on key and clears the
// dependency list (the entries are now unlinked, so nothing will ever look
// them up again).
func (t *Tracker) invalidateKey(key Key) {
	t.mu.Lock()
	blocks := t.deps[key]
	delete(t.deps, key)
	t.mu.Unlock()

	for _, b := range blocks {
		b.InvalidateEntry()
	}
}

// OnMethodChanged implements classes.MutationListener: it invalidates
// every block that assumed method-lookup stability for (class, methodID).
func (t *Tracker) OnMethodChanged(class *classes.Class, methodID string) {
	t.invalidateKey(Key{Kind: AssumeMethodLookupStable, ClassName: class.Name, MethodID: methodID})
}

// OnConstantChanged implements classes.MutationListener.
func (t *Tracker) OnConstantChanged(class *classes.Class, constID string) {
	t.invalidateKey(Key{Kind: AssumeConstantTableGeneration, ClassName: class.Name, MethodID: constID})
}

// OnMethodCacheGeneration implements classes.MutationListener: a coarse
// signal (inclusion, prepend, refinement activation, allocator swap) that
// doesn't carry a precise (class, id) key. Per §4.G "For method-lookup
// stability, the registry also subscribes to the class's subclass list so
// that definitions on a subclass which would shadow the assumption are
// detected by traversal" -- callers that need that precision should walk
// classes.Hierarchy.Subclasses themselves and call OnMethodChanged for
// each affected (class, id); OnMethodCacheGeneration here is the coarse
// fallback that invalidates every method-lookup assumption outright.
func (t *Tracker) OnMethodCacheGeneration() {
	t.mu.Lock()
	var keys []Key
	for k := range t.deps {
		if k.Kind == AssumeMethodLookupStable {
			keys = append(keys, k)
		}
	}
	t.mu.Unlock()
	for _, k := range keys {
		t.invalidateKey(k)
	}
}

// AssumeBasicOp registers block as depending on the built-in operation
// identified by tag/opIndex not having been redefined (§4.G, §8's fixnum
// '+' seed test implicitly assumes this).
func (t *Tracker) AssumeBasicOp(tag string, opIndex int, block Invalidatable) {
	t.Depend(Key{Kind: AssumeBasicOpNotRedefined, Tag: tag, OpIndex: opIndex}, block)
}

// RedefineBasicOp invalidates every block assuming the given basic op is
// untouched. Called by the (externally owned) interpreter when a user
// redefines, e.g., Integer#+.
func (t *Tracker) RedefineBasicOp(tag string, opIndex int) {
	t.invalidateKey(Key{Kind: AssumeBasicOpNotRedefined, Tag: tag, OpIndex: opIndex})
}
