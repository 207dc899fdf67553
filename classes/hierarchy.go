package classes

import "fmt"

// MutationListener receives notification of any hierarchy change that can
// invalidate a JIT assumption: method table writes, inclusion, prepending,
// constant assignment, or allocator swaps. Package invalidate implements
// this interface; classes never imports invalidate, so the dependency
// direction matches §4.G's "Mutation-notification contract with G".
type MutationListener interface {
	// OnMethodChanged fires for any install/redefinition/undef of a
	// method, keyed by the class it was installed on and the method id.
	OnMethodChanged(class *Class, methodID string)
	// OnConstantChanged fires for constant-table writes.
	OnConstantChanged(class *Class, constID string)
	// OnMethodCacheGeneration fires for coarse invalidation events that
	// don't have a precise (class, id) key (inclusion, prepending,
	// refinement activation, allocator swaps).
	OnMethodCacheGeneration()
}

// Hierarchy owns the class/module graph rooted at a single root class and
// the BasicObject/Object/Kernel bootstrap chain beneath it (§8's first seed
// test: "class A; end; class B < A; end" -- "B.ancestors" must terminate at
// "[B, A, Object, Kernel, BasicObject]").
type Hierarchy struct {
	Root     *Class // BasicObject
	Object   *Class
	Kernel   *Class // a module, included into Object
	Array    *Class // receiver class guarded by the indexed-access fast path
	Hash     *Class // receiver class guarded by the indexed-access fast path
	nextSerial uint64

	// true/false/nil special singleton classes (§4.A "singleton class of
	// object", immediates case).
	trueClass, falseClass, nilClass *Class

	listeners []MutationListener
}

// NewHierarchy builds the bootstrap chain BasicObject <- Object <- Kernel
// (included) and the three special immediate singleton classes.
func NewHierarchy() *Hierarchy {
	h := &Hierarchy{}
	h.Root = h.newClassLocked("BasicObject", nil)
	h.Object = h.newClassLocked("Object", h.Root)
	h.Kernel = h.newClassLocked("Kernel", nil)
	if err := h.Include(h.Object, h.Kernel); err != nil {
		panic(fmt.Sprintf("classes: bootstrap include failed: %v", err))
	}
	h.trueClass = h.newClassLocked("TrueClass", h.Object)
	h.falseClass = h.newClassLocked("FalseClass", h.Object)
	h.nilClass = h.newClassLocked("NilClass", h.Object)
	h.Array = h.newClassLocked("Array", h.Object)
	h.Hash = h.newClassLocked("Hash", h.Object)
	return h
}

// Subscribe registers l to receive mutation notifications. Typically
// invoked once at wiring time with the invalidate.Tracker for the engine.
func (h *Hierarchy) Subscribe(l MutationListener) {
	h.listeners = append(h.listeners, l)
}

func (h *Hierarchy) notifyMethod(c *Class, id string) {
	for _, l := range h.listeners {
		l.OnMethodChanged(c, id)
	}
}

func (h *Hierarchy) notifyConstant(c *Class, id string) {
	for _, l := range h.listeners {
		l.OnConstantChanged(c, id)
	}
}

func (h *Hierarchy) notifyGeneration() {
	for _, l := range h.listeners {
		l.OnMethodCacheGeneration()
	}
}

func (h *Hierarchy) newClassLocked(name string, super *Class) *Class {
	h.nextSerial++
	c := newClass(name, super)
	c.Serial = h.nextSerial
	if super != nil {
		super.Subclasses = append(super.Subclasses, c)
	}
	return c
}

// DefineClass implements §4.A "define class under a namespace class with a
// given superclass". existing is whatever is currently bound to name in
// that namespace (nil if unbound) and bind installs a newly created class;
// this package doesn't own namespaces itself, it is handed the lookup
// result and a setter.
func (h *Hierarchy) DefineClass(name string, existing *Class, super *Class, bind func(*Class)) (*Class, error) {
	if existing != nil {
		if existing.Flags&FlagSingleton != 0 {
			return nil, &TypeError{Msg: fmt.Sprintf("%s is not a class", name)}
		}
		if want := super; want != nil {
			if got := realSuper(existing); got != want {
				return nil, &IncompatibleSuperclassError{Name: name, Existing: existing, Wanted: want}
			}
		}
		return existing, nil
	}
	if super == nil {
		return nil, &ArgumentError{Msg: fmt.Sprintf("no superclass given for %s", name)}
	}
	c := h.newClassLocked(name, super)
	bind(c)
	logger.Printf("defined class %s < %s", name, super.Name)
	h.notifyGeneration()
	// parent's "inherited" hook: modeled as a notification, the concrete
	// callback is a host concern outside this package's scope.
	return c, nil
}

// Ancestors returns the ordered ancestor chain of c, including c itself,
// following iclass wrappers and origins. This is the public form of the
// §8 seed test ("B.ancestors returns ... [B, A, Object, Kernel,
// BasicObject]").
func (h *Hierarchy) Ancestors(c *Class) []*Class {
	var out []*Class
	seen := make(map[*Class]bool)
	// If c has never been prepended to, c itself is the first node of its
	// own Super chain. If it has, c.Super already points at the nearest
	// prepended iclass (Prepend rewires it there); c's own identity will
	// be emitted later, when the walk reaches c's origin node.
	cur := c
	if c.Origin != nil {
		cur = c.Super
	}
	for cur != nil {
		if seen[cur] {
			break // acyclicity invariant; defensive stop for a corrupted graph
		}
		seen[cur] = true
		out = append(out, cur)
		cur = cur.Super
	}
	return out
}

// displayOwner returns the Class a given Ancestors() entry represents: a
// module for an Include-created iclass, the original owning class for an
// origin node, or the node itself.
func displayOwner(node *Class) *Class {
	switch {
	case node.ForModule != nil:
		return node.ForModule
	case node.OriginOf != nil:
		return node.OriginOf
	default:
		return node
	}
}

// IsAncestor reports whether candidate appears anywhere in target's
// ancestor chain (used by the cyclic-include check and by §4.F's
// "ancestry guard" for protected-method calls).
func (h *Hierarchy) IsAncestor(candidate, target *Class) bool {
	for _, a := range h.Ancestors(target) {
		if displayOwner(a) == candidate {
			return true
		}
	}
	return false
}

// Include implements §4.A "include module (and its transitive includes,
// depth-first) above the class". Transitive includes of module are walked
// depth-first and each gets its own iclass wrapper, reusing module's
// tables by reference. The iclass chain is inserted at class's origin
// (below any already-prepended modules), mirroring
// original_source/class.c's do_include_modules_at(klass, RCLASS_ORIGIN(klass), ...).
func (h *Hierarchy) Include(class, module *Class) error {
	if h.IsAncestor(module, class) || h.IsAncestor(class, module) {
		return &ArgumentError{Msg: fmt.Sprintf("cyclic include of %s in %s", module.Name, class.Name)}
	}
	h.includeAt(class.origin(), module)
	h.notifyGeneration()
	return nil
}

// includeAt splices module's ancestor chain, depth-first, as a run of
// iclass wrappers directly below insertPoint, preserving whatever
// insertPoint.Super pointed to before the call.
func (h *Hierarchy) includeAt(insertPoint, module *Class) {
	// Depth-first: include module's own super-chain of modules first, so
	// the nearest ancestor in MRO terms is the one closest to insertPoint.
	var chain []*Class
	for p := module; p != nil; p = p.Super {
		chain = append(chain, p)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		m := chain[i]
		ic := &Class{
			Name:      m.Name,
			Methods:   m.Methods,   // shared by reference
			Constants: m.Constants, // shared by reference
			IVarIndex: m.IVarIndex, // shared by reference
			Flags:     FlagIClass,
			ForModule: m,
		}
		h.nextSerial++
		ic.Serial = h.nextSerial
		ic.Super = insertPoint.Super
		insertPoint.Super = ic
		insertPoint = ic

		// Register the wrapper on its module's own Subclasses list so a
		// later prepend into m (Prepend's back-propagation loop below)
		// can find every class m was included into.
		m.Subclasses = append(m.Subclasses, ic)
	}
}

// Prepend implements §4.A "prepend module". The first prepend on a class
// creates class.Origin, moves class's own method table onto it, and
// installs a fresh table on class. Subsequent prepends stack above class
// but below Origin: the iclass chain is spliced in directly at class
// itself (above wherever class.Super currently points, which after the
// first prepend is always the origin or a previously prepended iclass),
// mirroring original_source/class.c's rb_prepend_module, which calls
// do_include_modules_at(klass, klass, module, ...) -- note the second
// argument is klass itself, not its origin, unlike Include. Prepending
// into a module that is itself already included elsewhere back-propagates
// the origin to every including class's wrapper.
func (h *Hierarchy) Prepend(class, module *Class) error {
	if h.IsAncestor(module, class) {
		return &ArgumentError{Msg: fmt.Sprintf("cyclic prepend of %s in %s", module.Name, class.Name)}
	}
	hadNoOrigin := class.Origin == nil
	if hadNoOrigin {
		h.ensureOrigin(class)
	}
	h.includeAt(class, module)
	if hadNoOrigin {
		// Back-propagate: any class that already had `class` included as
		// a module must now see class's new origin in its own iclass
		// wrapper chain for `class`, per rb_prepend_module's walk over
		// the module's own includers. sc.ForModule still points at the
		// live class, so Lookup's table read (sc.ForModule.Methods) sees
		// whatever class.Methods is from here on (methods defined on
		// class after this prepend); sc.Super = class.Origin is what
		// makes the pre-prepend methods, now moved onto Origin, still
		// reachable on fallthrough.
		for _, sc := range class.Subclasses {
			if sc.Flags&FlagIClass != 0 && sc.ForModule == class {
				sc.Super = class.Origin
			}
		}
	}
	h.notifyGeneration()
	return nil
}

// ensureOrigin creates class.Origin the first time something is prepended
// to class, moving class's method table onto the origin node and
// installing a fresh one on class, mirroring original_source/class.c's
// ensure_origin.
func (h *Hierarchy) ensureOrigin(class *Class) {
	if class.Origin != nil {
		return
	}
	origin := &Class{
		Name:      class.Name,
		Methods:   class.Methods,
		Constants: class.Constants,
		IVarIndex: class.IVarIndex,
		Super:     class.Super,
		Flags:     FlagIClass,
		OriginOf:  class,
	}
	h.nextSerial++
	origin.Serial = h.nextSerial
	class.Origin = origin
	class.Methods = make(map[string]*MethodEntry)
	class.Super = origin
}

// Lookup implements §4.A "lookup method by id": walk Super from the
// receiver class itself (after a prepend, class.Super leads through the
// prepended modules to the origin), return the first non-refined,
// non-undef entry.
func (h *Hierarchy) Lookup(class *Class, id string) (*MethodEntry, *Class) {
	for cur := class; cur != nil; cur = cur.Super {
		// An iclass-for-module wrapper shares its module's table by
		// reference; an origin node already holds its owner's table
		// directly in its own Methods field (set by ensureOrigin), so
		// only the ForModule case needs redirecting.
		tbl := cur.Methods
		if cur.ForModule != nil {
			tbl = cur.ForModule.Methods
		}
		if m, ok := tbl[id]; ok {
			if m.Definition.Kind == DefUndefined {
				return nil, nil
			}
			if m.Definition.Kind == DefRefined {
				return h.resolveRefined(m), cur
			}
			return m, cur
		}
	}
	return nil, nil
}

// resolveRefined follows a refined wrapper's Original link unless
// refinement is active. Refinement activation tracking is outside this
// package's scope (it is a per-call-site lexical concern of the excluded
// parser/bytecode-generator); this package always resolves through
// Original, matching the "unless refinement is active" default.
func (h *Hierarchy) resolveRefined(m *MethodEntry) *MethodEntry {
	if m.Definition.Original != nil {
		return m.Definition.Original
	}
	return m
}

// Define installs or replaces a method entry on class, notifying G.
// Per §3 "Lifecycle", the previous entry (if any) is not mutated in place:
// a new *MethodEntry is installed so that any compiled block which closed
// over the old entry's identity can still observe it was superseded.
func (h *Hierarchy) Define(class *Class, id string, vis Visibility, def Definition) *MethodEntry {
	m := &MethodEntry{
		ID:         h.nextCallableID(),
		Name:       id,
		Visibility: vis,
		DefinedIn:  class,
		Definition: def,
	}
	class.Methods[id] = m
	h.notifyMethod(class, id)
	return m
}

func (h *Hierarchy) nextCallableID() uint64 {
	h.nextSerial++
	return h.nextSerial
}

// SingletonClassOf implements §4.A "singleton class of object". kind
// identifies the receiver's compile-time-irrelevant runtime kind for the
// three special immediates and the forbidden set; obj is nil for those.
// For a heap object, attachedClass is its current runtime class and
// isClassItself tells SingletonClassOf whether obj is itself a Class (so
// metaclass consistency can be recursively ensured, per DESIGN NOTES and
// original_source/class.c's rb_singleton_class_clone_and_attach).
func (h *Hierarchy) SingletonClassOf(kind string, obj interface{}, attachedClass *Class, isClassItself bool) (*Class, error) {
	switch kind {
	case "true":
		return h.trueClass, nil
	case "false":
		return h.falseClass, nil
	case "nil":
		return h.nilClass, nil
	case "fixnum", "bignum", "float", "symbol", "frozen_string":
		return nil, &ForbiddenSingletonError{Kind: kind}
	}

	if attachedClass.Flags&FlagSingleton != 0 && attachedClass.Attached == obj {
		return attachedClass, nil
	}

	sc := &Class{
		Name:     "#<Class:" + attachedClass.Name + ">",
		Super:    attachedClass,
		Methods:  make(map[string]*MethodEntry),
		Flags:    FlagSingleton,
		Attached: obj,
	}
	h.nextSerial++
	sc.Serial = h.nextSerial
	attachedClass.Subclasses = append(attachedClass.Subclasses, sc)

	if isClassItself {
		// obj is itself a Class: recursively ensure its own metaclass
		// chain is consistent, i.e. metaclass-of-metaclass, per the
		// third Open Question in §9. Precondition: attachedClass is the
		// Class being attached (obj == attachedClass, boxed). Postcondition:
		// sc.metaclass() materializes as a singleton class attached to
		// sc, parallel to attachedClass's own chain.
		if _, err := h.MetaclassOf(sc); err != nil {
			return nil, err
		}
	}
	h.notifyGeneration()
	return sc, nil
}

// MetaclassOf lazily materializes and returns the class-of c, which §3
// requires to always itself be a singleton class. Once materialized it
// forms a parallel singleton hierarchy mirroring the normal one, per §8
// invariant 5 ("Metaclass consistency").
func (h *Hierarchy) MetaclassOf(c *Class) (*Class, error) {
	if c.metaclass != nil {
		return c.metaclass, nil
	}
	super := c.Super
	var superMeta *Class
	var err error
	if super != nil {
		superMeta, err = h.MetaclassOf(super)
		if err != nil {
			return nil, err
		}
	} else {
		superMeta = h.Root // the root's metaclass's super bottoms out at Class/Module, represented here as Root for simplicity
	}
	mc := &Class{
		Name:     "#<Class:" + c.Name + ">",
		Super:    superMeta,
		Methods:  make(map[string]*MethodEntry),
		Flags:    FlagSingleton,
		Attached: c,
	}
	h.nextSerial++
	mc.Serial = h.nextSerial
	superMeta.Subclasses = append(superMeta.Subclasses, mc)
	c.metaclass = mc
	return mc, nil
}
