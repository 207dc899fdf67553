package callsite

import (
	"testing"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/classes"
)

func newFixtureHierarchy() (*classes.Hierarchy, *classes.Class) {
	h := classes.NewHierarchy()
	base := h.Object
	derived, err := h.DefineClass("Point", nil, base, func(*classes.Class) {})
	if err != nil {
		panic(err)
	}
	return h, derived
}

func TestResolvePlainBytecodeCall(t *testing.T) {
	h, recv := newFixtureHierarchy()
	body := &bytecode.Body{Name: "distance"}
	h.Define(recv, "distance", classes.Public, classes.Definition{Kind: classes.DefBytecode, Body: body})

	info := bytecode.CallInfo{MethodName: "distance"}
	plan, err := Resolve(h, recv, info, recv)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Callee != body {
		t.Fatalf("expected resolved Callee to be the defined body")
	}
	if plan.NeedsAncestryGuard {
		t.Fatal("a public method should not need an ancestry guard")
	}
}

func TestResolveReceiverClassUnknown(t *testing.T) {
	h, _ := newFixtureHierarchy()
	_, err := Resolve(h, nil, bytecode.CallInfo{MethodName: "foo"}, nil)
	if err != ErrReceiverClassUnknown {
		t.Fatalf("expected ErrReceiverClassUnknown, got %v", err)
	}
}

func TestResolveRejectsUnsupportedArgShapes(t *testing.T) {
	h, recv := newFixtureHierarchy()
	h.Define(recv, "foo", classes.Public, classes.Definition{Kind: classes.DefBytecode, Body: &bytecode.Body{}})

	cases := []bytecode.CallInfo{
		{MethodName: "foo", KeywordSplat: true},
		{MethodName: "foo", KeywordHash: true},
		{MethodName: "foo", SplatArg: true},
		{MethodName: "foo", BlockArg: true},
	}
	for _, info := range cases {
		if _, err := Resolve(h, recv, info, recv); err != ErrUnsupportedArgShape {
			t.Fatalf("info %+v: expected ErrUnsupportedArgShape, got %v", info, err)
		}
	}
}

func TestResolveMethodMissing(t *testing.T) {
	h, recv := newFixtureHierarchy()
	_, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "nope"}, recv)
	if err != ErrMethodMissing {
		t.Fatalf("expected ErrMethodMissing, got %v", err)
	}
}

func TestResolvePrivateCallWithReceiverRejected(t *testing.T) {
	h, recv := newFixtureHierarchy()
	h.Define(recv, "secret", classes.Private, classes.Definition{Kind: classes.DefBytecode, Body: &bytecode.Body{}})

	_, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "secret", Functional: false}, recv)
	if err != ErrPrivateCallHasReceiver {
		t.Fatalf("expected ErrPrivateCallHasReceiver, got %v", err)
	}

	plan, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "secret", Functional: true}, recv)
	if err != nil {
		t.Fatalf("functional private call should resolve: %v", err)
	}
	if plan.Entry.Visibility != classes.Private {
		t.Fatal("expected the private entry to be returned")
	}
}

func TestResolveProtectedNeedsAncestryGuard(t *testing.T) {
	h, recv := newFixtureHierarchy()
	h.Define(recv, "guarded", classes.Protected, classes.Definition{Kind: classes.DefBytecode, Body: &bytecode.Body{}})

	plan, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "guarded"}, recv)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !plan.NeedsAncestryGuard {
		t.Fatal("expected a protected method to require an ancestry guard")
	}
}

func TestResolveAliasFollowsTarget(t *testing.T) {
	h, recv := newFixtureHierarchy()
	target := h.Define(recv, "real", classes.Public, classes.Definition{Kind: classes.DefBytecode, Body: &bytecode.Body{Name: "real"}})
	h.Define(recv, "aka", classes.Public, classes.Definition{Kind: classes.DefAlias, AliasTarget: target})

	plan, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "aka"}, recv)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Entry != target {
		t.Fatal("expected alias resolution to return the target entry")
	}
}

func TestResolveNativeFixedArity(t *testing.T) {
	h, recv := newFixtureHierarchy()
	var addr uintptr = 0xdeadbeef
	h.Define(recv, "add", classes.Public, classes.Definition{
		Kind:        classes.DefNative,
		NativeFunc:  addr,
		NativeArity: classes.Arity{Fixed: 1},
	})

	plan, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "add", ArgCount: 1}, recv)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.NativeAddr != addr {
		t.Fatalf("expected NativeAddr %x, got %x", addr, plan.NativeAddr)
	}
}

func TestResolveNativeArityTooWideRejected(t *testing.T) {
	h, recv := newFixtureHierarchy()
	h.Define(recv, "wide", classes.Public, classes.Definition{
		Kind:        classes.DefNative,
		NativeFunc:  uintptr(1),
		NativeArity: classes.Arity{Fixed: maxNativeCallArgs + 1},
	})

	_, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "wide", ArgCount: maxNativeCallArgs + 1}, recv)
	if err != ErrNativeArityUnsupported {
		t.Fatalf("expected ErrNativeArityUnsupported, got %v", err)
	}
}

func TestResolveAccessorRejectsArguments(t *testing.T) {
	h, recv := newFixtureHierarchy()
	h.Define(recv, "x", classes.Public, classes.Definition{Kind: classes.DefAccessor, IVarName: "@x"})

	if _, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "x", ArgCount: 1}, recv); err != ErrUnsupportedCalleeSignature {
		t.Fatalf("expected ErrUnsupportedCalleeSignature, got %v", err)
	}

	plan, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "x"}, recv)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.IVarName != "@x" {
		t.Fatalf("expected IVarName @x, got %q", plan.IVarName)
	}
}

func TestResolveUnsupportedDefinitionKind(t *testing.T) {
	h, recv := newFixtureHierarchy()
	h.Define(recv, "missing", classes.Public, classes.Definition{Kind: classes.DefMissing})

	if _, err := Resolve(h, recv, bytecode.CallInfo{MethodName: "missing"}, recv); err != ErrUnsupportedDefinitionKind {
		t.Fatalf("expected ErrUnsupportedDefinitionKind, got %v", err)
	}
}

func TestResolveSuperSearchesFromSuperclass(t *testing.T) {
	h := classes.NewHierarchy()
	base := h.Object
	baseBody := &bytecode.Body{Name: "base-greet"}
	h.Define(base, "greet", classes.Public, classes.Definition{Kind: classes.DefBytecode, Body: baseBody})

	derived, err := h.DefineClass("Greeter", nil, base, func(*classes.Class) {})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	derivedEntry := h.Define(derived, "greet", classes.Public, classes.Definition{Kind: classes.DefBytecode, Body: &bytecode.Body{Name: "derived-greet"}})

	plan, err := ResolveSuper(h, derived, "greet", bytecode.CallInfo{MethodName: "greet"}, derived)
	if err != nil {
		t.Fatalf("ResolveSuper: %v", err)
	}
	if plan.Callee != baseBody {
		t.Fatal("expected ResolveSuper to find the base class's definition")
	}
	if !plan.IsSuper {
		t.Fatal("expected IsSuper to be set")
	}
	if plan.CallerMethodEntry != derivedEntry {
		t.Fatal("expected CallerMethodEntry to be the derived class's own entry")
	}
	if plan.CallerDefinedIn != derived {
		t.Fatal("expected CallerDefinedIn to be the derived class")
	}
}

func TestResolveSuperNoSuperclass(t *testing.T) {
	h := classes.NewHierarchy()
	if _, err := ResolveSuper(h, h.Root, "whatever", bytecode.CallInfo{MethodName: "whatever"}, h.Root); err != ErrNoSuperclass {
		t.Fatalf("expected ErrNoSuperclass, got %v", err)
	}
}
