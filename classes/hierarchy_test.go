package classes

import (
	"reflect"
	"testing"
)

func names(cs []*Class) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func TestBasicAncestry(t *testing.T) {
	h := NewHierarchy()
	a, err := h.DefineClass("A", nil, h.Object, func(c *Class) {})
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.DefineClass("B", nil, a, func(c *Class) {})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"B", "A", "Object", "Kernel", "BasicObject"}
	if got := names(h.Ancestors(b)); !reflect.DeepEqual(got, want) {
		t.Errorf("Ancestors(B) = %v, want %v", got, want)
	}
}

func TestPrependOrdering(t *testing.T) {
	h := NewHierarchy()
	m := h.newClassLocked("M", nil)
	c, err := h.DefineClass("C", nil, h.Object, func(*Class) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Prepend(c, m); err != nil {
		t.Fatal(err)
	}

	got := names(h.Ancestors(c))
	if len(got) < 2 || got[0] != "M" || got[1] != "C" {
		t.Errorf("Ancestors(C) = %v, want to begin with [M, C, ...]", got)
	}

	h.Define(m, "foo", Public, Definition{Kind: DefNative})
	entry, owner := h.Lookup(c, "foo")
	if entry == nil {
		t.Fatal("expected foo to resolve via prepended module M")
	}
	if owner.Name != "M" {
		t.Errorf("Lookup(C, foo) resolved via %s, want M", owner.Name)
	}
}

func TestPrependIntoModuleAlreadyIncludedElsewhere(t *testing.T) {
	h := NewHierarchy()
	m := h.newClassLocked("M", nil)
	d, err := h.DefineClass("D", nil, h.Object, func(*Class) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Include(d, m); err != nil {
		t.Fatal(err)
	}
	sc := d.Super // the iclass wrapper Include spliced in for M

	h.Define(m, "foo", Public, Definition{Kind: DefNative}) // pre-prepend method

	n := h.newClassLocked("N", nil)
	if err := h.Prepend(m, n); err != nil {
		t.Fatal(err)
	}

	h.Define(m, "bar", Public, Definition{Kind: DefNative}) // post-prepend method

	if sc.Super != m.Origin {
		t.Fatalf("expected D's iclass wrapper for M to be back-propagated onto M.Origin, got %v", sc.Super)
	}

	entry, owner := h.Lookup(d, "foo")
	if entry == nil {
		t.Fatal("expected foo (defined on M before the prepend) to still resolve via D")
	}
	if owner != m.Origin {
		t.Errorf("Lookup(D, foo) should resolve through M.Origin, got a different owner")
	}

	entry, owner = h.Lookup(d, "bar")
	if entry == nil {
		t.Fatal("expected bar (defined on M after the prepend) to resolve via D")
	}
	if owner != sc {
		t.Errorf("Lookup(D, bar) should resolve through D's own iclass wrapper for M, got a different owner")
	}
}

func TestIncludeCyclicRejected(t *testing.T) {
	h := NewHierarchy()
	m := h.newClassLocked("M", nil)
	c, _ := h.DefineClass("C", nil, h.Object, func(*Class) {})
	if err := h.Include(c, m); err != nil {
		t.Fatal(err)
	}
	if err := h.Include(m, c); err == nil {
		t.Errorf("expected cyclic include to be rejected")
	}
}

func TestDefineClassIncompatibleSuper(t *testing.T) {
	h := NewHierarchy()
	a, _ := h.DefineClass("A", nil, h.Object, func(*Class) {})
	other := h.newClassLocked("Other", h.Object)

	_, err := h.DefineClass("A", a, other, func(*Class) {})
	var incompat *IncompatibleSuperclassError
	if err == nil {
		t.Fatal("expected an IncompatibleSuperclassError")
	}
	if !asIncompatible(err, &incompat) {
		t.Errorf("got %T, want *IncompatibleSuperclassError", err)
	}
}

func asIncompatible(err error, target **IncompatibleSuperclassError) bool {
	e, ok := err.(*IncompatibleSuperclassError)
	if ok {
		*target = e
	}
	return ok
}

func TestSingletonClassForbiddenForFixnum(t *testing.T) {
	h := NewHierarchy()
	if _, err := h.SingletonClassOf("fixnum", nil, nil, false); err == nil {
		t.Errorf("expected singleton class of a fixnum to be forbidden")
	}
}

func TestMetaclassConsistency(t *testing.T) {
	h := NewHierarchy()
	k, _ := h.DefineClass("K", nil, h.Object, func(*Class) {})
	sc, err := h.SingletonClassOf("heap", k, k, true)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Flags&FlagSingleton == 0 {
		t.Fatal("singleton class of K should carry FlagSingleton")
	}
	scMeta, err := h.MetaclassOf(sc)
	if err != nil {
		t.Fatal(err)
	}
	if scMeta.Flags&FlagSingleton == 0 {
		t.Errorf("metaclass of a singleton class must itself be a singleton class")
	}
	if scMeta.Attached != sc {
		t.Errorf("metaclass's attached object should be sc itself")
	}
}
