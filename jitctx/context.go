// Package jitctx implements the compile-time context: the compiler's
// abstract belief about stack depth, per-slot and per-local types, and the
// chain-depth counter used by guards. This is component B (§4.B) and also
// serves as the versioning key consulted by package version (component C).
package jitctx

import (
	"github.com/bbvjit/corevm/classes"
	"github.com/bbvjit/corevm/value"
)

// maxMappedSlots bounds the number of top-of-stack slots (and locals) for
// which a mapping back to self/a local is tracked, per §3 "capped at a
// small fixed number".
const maxMappedSlots = 8

// MappingKind describes what a stack slot is known to be a copy of, so that
// a type refinement on self or a local can propagate to its stack copies.
type MappingKind uint8

const (
	MapIndependent MappingKind = iota
	MapSelf
	MapLocal
)

// Mapping records, for one stack slot, whether it is a transparent copy of
// self or of a local (and which one).
type Mapping struct {
	Kind      MappingKind
	LocalIdx  int // meaningful only when Kind == MapLocal
}

// Type is the (kind, is_immediate, is_heap) triple of §3, extended with
// an optional compile-time class speculation: when a guard has already
// established the receiver's runtime class, Class records it so later
// instructions (ivar get, call-site lowering) can guard against the same
// class without re-deriving it from Kind alone.
type Type struct {
	Kind      value.Kind
	Immediate bool
	Heap      bool
	Class     *classes.Class
}

// Unknown is the default, unrefined type.
var Unknown = Type{Kind: value.KindUnknown}

// typeOf derives the is_immediate/is_heap flags from a Kind so callers
// never have to keep the three fields in sync by hand.
func typeOf(k value.Kind) Type {
	return Type{Kind: k, Immediate: k.IsImmediate(), Heap: k.IsHeap()}
}

// TypeOf is the exported constructor emitters use when pushing a
// statically-known type (e.g. after a literal push).
func TypeOf(k value.Kind) Type { return typeOf(k) }

// TypeOfClass is TypeOf additionally speculating on a known runtime
// class, used once a guard has established the receiver's class (§4.E's
// instance-variable-get and §4.F's call-site lowering).
func TypeOfClass(k value.Kind, class *classes.Class) Type {
	t := typeOf(k)
	t.Class = class
	return t
}

// subsumes reports whether t is the same or a weaker (less specific) type
// than other -- i.e. whether a block compiled with entry type t would also
// be a valid (if less specialized) version for a query of type other. Used
// by package version's subsumption check (§8 invariant 1).
func (t Type) subsumes(other Type) bool {
	if t.Kind == value.KindUnknown {
		return true
	}
	if t.Kind != other.Kind {
		return false
	}
	if t.Class != nil && t.Class != other.Class {
		return false
	}
	return true
}

// upgrade returns a strengthened copy of t given a newly observed kind,
// never weakening an already-known type. Per §4.B "upgrade opnd type ...
// never weaken".
func (t Type) upgrade(k value.Kind) Type {
	if t.Kind != value.KindUnknown && t.Kind != k {
		// A guard narrowing to a *different* concrete kind than what was
		// already known would be a compiler bug; callers only call
		// upgrade after a guard confirms k, so this branch should be
		// unreachable in practice. Prefer the newly-confirmed kind rather
		// than panicking, since side-exits must still be emittable.
		return typeOf(k)
	}
	return typeOf(k)
}

// Context is the compiler's belief about runtime state at one program
// point, and the versioning key for package version.
type Context struct {
	SPOffset  int
	StackSize int

	SelfType Type

	// stackTypes and stackMap are indexed from the top of the stack
	// downward (index 0 = top), capped at maxMappedSlots; entries beyond
	// the cap are conservatively Unknown/MapIndependent.
	stackTypes [maxMappedSlots]Type
	stackMap   [maxMappedSlots]Mapping

	localTypes [maxMappedSlots]Type

	// ChainDepth counts how many specialized versions have been chained
	// for the same bytecode offset (§3, §4.C).
	ChainDepth int
}

// New returns a fresh context with zero stack depth and all types unknown.
func New() *Context {
	return &Context{}
}

// Dup returns a deep copy, used whenever a guard needs to fork the context
// (one copy continues inline, one is captured by a stub for the narrowed
// path) without aliasing the original's arrays.
func (c *Context) Dup() *Context {
	cp := *c
	return &cp
}

// Push moves the logical stack pointer forward by one slot carrying typ
// (value.KindUnknown by default), per §4.B "push/pop stack".
func (c *Context) Push(typ Type) {
	for i := maxMappedSlots - 1; i > 0; i-- {
		c.stackTypes[i] = c.stackTypes[i-1]
		c.stackMap[i] = c.stackMap[i-1]
	}
	c.stackTypes[0] = typ
	c.stackMap[0] = Mapping{}
	c.SPOffset++
	c.StackSize++
}

// Pop forgets the top slot's type and moves the logical stack pointer back.
func (c *Context) Pop() {
	for i := 0; i < maxMappedSlots-1; i++ {
		c.stackTypes[i] = c.stackTypes[i+1]
		c.stackMap[i] = c.stackMap[i+1]
	}
	c.stackTypes[maxMappedSlots-1] = Unknown
	c.stackMap[maxMappedSlots-1] = Mapping{}
	c.SPOffset--
	if c.StackSize > 0 {
		c.StackSize--
	}
}

// StackType returns the type of the slot `depth` entries below the top
// (0 = top of stack), resolving a self/local mapping if present.
func (c *Context) StackType(depth int) Type {
	if depth < 0 || depth >= maxMappedSlots {
		return Unknown
	}
	switch c.stackMap[depth].Kind {
	case MapSelf:
		return c.SelfType
	case MapLocal:
		return c.LocalType(c.stackMap[depth].LocalIdx)
	default:
		return c.stackTypes[depth]
	}
}

// SetStackType overwrites the raw type of the slot `depth` entries below
// the top, clearing any mapping (the slot becomes an independent value).
func (c *Context) SetStackType(depth int, typ Type) {
	if depth < 0 || depth >= maxMappedSlots {
		return
	}
	c.stackTypes[depth] = typ
	c.stackMap[depth] = Mapping{Kind: MapIndependent}
}

// MapStackToSelf marks the slot `depth` entries below the top as a
// transparent copy of self, so a later refinement of SelfType is visible
// through it.
func (c *Context) MapStackToSelf(depth int) {
	if depth < 0 || depth >= maxMappedSlots {
		return
	}
	c.stackMap[depth] = Mapping{Kind: MapSelf}
}

// MapStackToLocal marks the slot `depth` entries below the top as a
// transparent copy of local slot idx.
func (c *Context) MapStackToLocal(depth, idx int) {
	if depth < 0 || depth >= maxMappedSlots {
		return
	}
	c.stackMap[depth] = Mapping{Kind: MapLocal, LocalIdx: idx}
}

// LocalType returns the type of local idx, or Unknown if idx is beyond the
// tracked cap.
func (c *Context) LocalType(idx int) Type {
	if idx < 0 || idx >= maxMappedSlots {
		return Unknown
	}
	return c.localTypes[idx]
}

// SetLocalType implements §4.B "set local type: clobbers any stack mapping
// that referred to that local back to independent with the prior type."
func (c *Context) SetLocalType(idx int, typ Type) {
	if idx < 0 || idx >= maxMappedSlots {
		return
	}
	prior := c.localTypes[idx]
	for i := 0; i < maxMappedSlots; i++ {
		if c.stackMap[i].Kind == MapLocal && c.stackMap[i].LocalIdx == idx {
			c.stackTypes[i] = prior
			c.stackMap[i] = Mapping{Kind: MapIndependent}
		}
	}
	c.localTypes[idx] = typ
}

// ClearLocalTypes implements §4.B "performed after any call that can
// execute arbitrary code": every local reverts to Unknown, and any stack
// mapping to a local or to self is flattened to its last known type before
// being cleared, since the callee could have reassigned through
// meta-programming.
func (c *Context) ClearLocalTypes() {
	for i := 0; i < maxMappedSlots; i++ {
		if c.stackMap[i].Kind != MapIndependent {
			c.stackTypes[i] = c.StackType(i)
			c.stackMap[i] = Mapping{Kind: MapIndependent}
		}
	}
	for i := range c.localTypes {
		c.localTypes[i] = Unknown
	}
	c.SelfType = Unknown
}

// Upgrade strengthens the type of the slot `depth` entries below the top
// after a guard succeeds, propagating to self/local if mapped, per §4.B
// "upgrade opnd type: ... never weaken ... propagate."
func (c *Context) Upgrade(depth int, k value.Kind) {
	if depth < 0 || depth >= maxMappedSlots {
		return
	}
	switch c.stackMap[depth].Kind {
	case MapSelf:
		c.SelfType = c.SelfType.upgrade(k)
	case MapLocal:
		idx := c.stackMap[depth].LocalIdx
		if idx >= 0 && idx < maxMappedSlots {
			c.localTypes[idx] = c.localTypes[idx].upgrade(k)
		}
	default:
		c.stackTypes[depth] = c.stackTypes[depth].upgrade(k)
	}
}

// SetSelfType overwrites SelfType outright, used once a guard establishes
// self's runtime class and self has no stack-slot mapping to refine
// through Upgrade/UpgradeClass (e.g. an ivar-get at the start of a
// method, before self has been pushed anywhere).
func (c *Context) SetSelfType(t Type) { c.SelfType = t }

// UpgradeClass is Upgrade additionally recording a compile-time class
// speculation for the slot, propagating to self/local if mapped.
func (c *Context) UpgradeClass(depth int, k value.Kind, class *classes.Class) {
	if depth < 0 || depth >= maxMappedSlots {
		return
	}
	t := TypeOfClass(k, class)
	switch c.stackMap[depth].Kind {
	case MapSelf:
		c.SelfType = t
	case MapLocal:
		idx := c.stackMap[depth].LocalIdx
		if idx >= 0 && idx < maxMappedSlots {
			c.localTypes[idx] = t
		}
	default:
		c.stackTypes[depth] = t
	}
}

// Equal implements §4.B "Context equality ... compares all fields
// structurally" for every field except ChainDepth, used by package version
// to decide whether two contexts may share a block version.
func (c *Context) Equal(o *Context) bool {
	if c.SPOffset != o.SPOffset || c.StackSize != o.StackSize || c.SelfType != o.SelfType {
		return false
	}
	return c.stackTypes == o.stackTypes && c.stackMap == o.stackMap && c.localTypes == o.localTypes
}

// Generalizes reports whether c is a strict generalization of query: same
// stack shape, and every stack, local and self type in c is the same or
// weaker than the corresponding one in query; mappings and ChainDepth are
// not compared. Used by package version's lookup preference
// order (§4.C) and is the formal statement of §8 invariant 1 ("Version
// subsumption").
func (c *Context) Generalizes(query *Context) bool {
	if c.SPOffset != query.SPOffset || c.StackSize != query.StackSize {
		return false
	}
	if !c.SelfType.subsumes(query.SelfType) {
		return false
	}
	for i := 0; i < maxMappedSlots; i++ {
		if !c.stackTypes[i].subsumes(query.stackTypes[i]) {
			return false
		}
		if !c.localTypes[i].subsumes(query.localTypes[i]) {
			return false
		}
	}
	return true
}
