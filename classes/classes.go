// Package classes implements the object/class graph the JIT's guards
// depend on: ancestor chains, module inclusion and prepending, singleton
// classes, and method lookup. It is component A of the design
// (§4.A) and the invariants it upholds are exactly the ones the JIT's type
// guards assume hold between compilation and execution.
//
// Class graphs are naturally cyclic (a metaclass's class is itself a
// singleton class; a singleton class points back at its attached object).
// The design notes for a systems-language port suggest an arena of nodes
// addressed by nullable index so that ownership is unambiguous. In Go, the
// garbage collector already traverses cyclic pointer graphs correctly, so
// this package uses plain nullable *Class fields instead of index-based
// back-edges; see DESIGN.md for the tradeoff.
package classes

// Visibility is a method entry's visibility.
type Visibility uint8

const (
	Public Visibility = iota
	Protected
	Private
	VisibilityUndef
)

// DefinitionKind tags the payload of a MethodEntry's Definition, mirroring
// §3 "Method entry ... a definition which is one of ...".
type DefinitionKind uint8

const (
	DefBytecode DefinitionKind = iota
	DefNative
	DefAccessor
	DefRefined
	DefAlias
	DefUndefined
	DefNotImplemented
	DefZSuper
	DefBMethod
	DefMissing
	DefOptimized
)

// Arity describes a native method's parameter shape.
type Arity struct {
	Fixed    int
	Variadic bool
}

// Definition is a tagged union over the method-body kinds §3 enumerates.
// Exactly one of the pointer-shaped fields is meaningful for a given Kind;
// package callsite's resolveEntry (via Resolve and ResolveSuper)
// dispatches on Kind exactly as §4.F / DESIGN NOTES
// "Dynamic dispatch on method-entry kinds" prescribes.
type Definition struct {
	Kind DefinitionKind

	// DefBytecode
	Body interface{} // *bytecode.Body; interface{} here to avoid an import
	// cycle between classes (the more foundational package) and bytecode.

	// DefNative
	NativeFunc interface{} // host function pointer, opaque to this package
	NativeArity Arity

	// DefAccessor
	IVarName string

	// DefRefined
	Original *MethodEntry

	// DefAlias
	AliasTarget *MethodEntry
}

// MethodEntry is one entry in a class's method table.
type MethodEntry struct {
	ID         uint64 // callable id, stable across redefinition
	Name       string
	Visibility Visibility
	DefinedIn  *Class
	Definition Definition

	// generation is bumped by Hierarchy whenever this entry's Definition
	// is replaced in place (used only for diagnostics; identity is what
	// package invalidate actually keys assumptions on).
	generation uint64
}

// Flags mirrors the per-class flag bits of §3.
type Flags uint16

const (
	FlagSingleton Flags = 1 << iota
	FlagCloned
	FlagRefinement
	FlagFrozen
	FlagIncludedIntoRefinement
	// FlagIClass marks an include-class wrapper: an interposed node that
	// shares a module's tables without being the module itself.
	FlagIClass
)

// Class is a node in the object/class graph. Modules are represented as
// Class values with no Super initially and FlagIClass unset; "iclass"
// wrappers (Class values with FlagIClass set) are the only nodes allowed to
// sit between a class and its Origin.
type Class struct {
	Name string

	Super  *Class
	Origin *Class // interposed anchor for prepended modules; nil until first prepend

	Methods   map[string]*MethodEntry
	Constants map[string]interface{}
	IVarIndex map[string]int

	// Subclasses is a weak back-reference list maintained so that
	// invalidation (package invalidate) can traverse from a class to
	// every class whose ancestry includes it.
	Subclasses []*Class

	Serial uint64 // monotonically assigned, used as a cache key

	Allocator func() interface{}

	Flags Flags

	// Attached is set on a singleton class: the exactly-one object it is
	// attached to. For a singleton class of a Class, Attached holds that
	// *Class boxed as interface{}; for an ordinary object's singleton
	// class, it holds whatever opaque receiver identity the host uses.
	Attached interface{}

	// ForModule is set on an iclass wrapper created by Include/Prepend:
	// the module whose tables it shares by reference.
	ForModule *Class

	// OriginOf is set on the origin anchor created by the first prepend
	// on a class: the class whose own method table was relocated here.
	// An origin node displays as its OriginOf owner in Ancestors.
	OriginOf *Class

	// metaclass is lazily materialized; see SingletonClassOf.
	metaclass *Class
}

func newClass(name string, super *Class) *Class {
	return &Class{
		Name:      name,
		Super:     super,
		Methods:   make(map[string]*MethodEntry),
		Constants: make(map[string]interface{}),
		IVarIndex: make(map[string]int),
	}
}

// realSuper returns the first ancestor of c that is not an iclass wrapper,
// i.e. the superclass "ignoring modules interposed in between", per
// §4.A "define class"'s compatibility check.
func realSuper(c *Class) *Class {
	p := c.Super
	for p != nil && p.Flags&FlagIClass != 0 {
		p = p.Super
	}
	return p
}

// IVarIndexFor returns the stable slot index assigned to ivar name in c's
// index table, force-inserting a fresh index (the "undefined" sentinel
// slot in spirit, since callers fill the value in separately) the first
// time it is observed, per §4.E step 2 of the instance-variable-get
// algorithm.
func (c *Class) IVarIndexFor(name string) int {
	if idx, ok := c.IVarIndex[name]; ok {
		return idx
	}
	idx := len(c.IVarIndex)
	c.IVarIndex[name] = idx
	return idx
}

// origin returns c's origin anchor, or c itself if no module has ever been
// prepended to it.
func (c *Class) origin() *Class {
	if c.Origin != nil {
		return c.Origin
	}
	return c
}
