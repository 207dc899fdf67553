// Package callsite implements §4.F's call-site lowering decisions: the
// preconditions a send must satisfy before anything is emitted, method
// lookup and visibility, and dispatch on the resolved method entry's
// kind. It deliberately knows nothing about native code generation --
// that stays in package codegen's emit_call.go, which asks this package
// for a Plan and then emits machine code against it -- so that this
// package and codegen do not import each other (codegen already depends
// on classes and bytecode; callsite sits between them and the send
// emitters).
package callsite

import (
	"errors"

	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/classes"
)

// Sentinel errors, each naming one of §4.F's cannot-compile conditions.
var (
	ErrUnsupportedArgShape        = errors.New("callsite: keyword splat, keyword hash, splat-argument or block-argument operand present")
	ErrReceiverClassUnknown       = errors.New("callsite: receiver class not known at compile time")
	ErrMethodMissing              = errors.New("callsite: method lookup failed")
	ErrPrivateCallHasReceiver     = errors.New("callsite: private method called with an explicit receiver")
	ErrUnsupportedDefinitionKind  = errors.New("callsite: method definition kind is not JIT-lowerable")
	ErrUnsupportedCalleeSignature = errors.New("callsite: callee signature is not JIT-lowerable")
	ErrNativeArityUnsupported     = errors.New("callsite: native callee arity exceeds the call-register count")
	ErrNoSuperclass               = errors.New("callsite: no superclass to search from")
)

// maxNativeCallArgs bounds fixed-arity native callees this module can
// lower, matching package internal/native's four-register call
// convention (execution context plus up to three operand registers, one
// of which carries the receiver).
const maxNativeCallArgs = 2

// Plan is what package codegen's send emitters need to lower a single
// call site, once every precondition and lookup has succeeded.
type Plan struct {
	Entry     *classes.MethodEntry
	DefinedIn *classes.Class
	Info      bytecode.CallInfo

	// NeedsAncestryGuard is set for a protected method: the caller must
	// additionally verify self is-a-kind-of DefinedIn.
	NeedsAncestryGuard bool

	// Exactly one of the following is populated, selected by Entry's
	// Definition.Kind (after alias resolution).
	Callee      *bytecode.Body // DefBytecode
	NativeAddr  uintptr        // DefNative
	NativeArity classes.Arity  // DefNative
	IVarName    string         // DefAccessor

	// Super-only fields, populated by ResolveSuper.
	IsSuper           bool
	CallerMethodEntry *classes.MethodEntry // the entry invoke-super's enclosing method must still match
	CallerDefinedIn   *classes.Class
}

func checkArgShape(info bytecode.CallInfo) error {
	if info.KeywordSplat || info.KeywordHash || info.SplatArg || info.BlockArg {
		return ErrUnsupportedArgShape
	}
	return nil
}

// Resolve implements the ordinary (non-super) half of §4.F: lookup,
// visibility, alias resolution, and per-kind payload extraction.
func Resolve(hier *classes.Hierarchy, recvClass *classes.Class, info bytecode.CallInfo, callerSelfClass *classes.Class) (*Plan, error) {
	if recvClass == nil {
		return nil, ErrReceiverClassUnknown
	}
	if err := checkArgShape(info); err != nil {
		return nil, err
	}
	entry, definedIn := hier.Lookup(recvClass, info.MethodName)
	if entry == nil {
		return nil, ErrMethodMissing
	}
	return resolveEntry(hier, definedIn, entry, info, callerSelfClass)
}

// ResolveSuper implements invoke-super's lookup: starting the search one
// level above callerDefinedIn (the class the currently-executing method
// is defined in), per §4.F "invoke-super performs analogous work".
func ResolveSuper(hier *classes.Hierarchy, callerDefinedIn *classes.Class, methodID string, info bytecode.CallInfo, callerSelfClass *classes.Class) (*Plan, error) {
	if callerDefinedIn == nil || callerDefinedIn.Super == nil {
		return nil, ErrNoSuperclass
	}
	if err := checkArgShape(info); err != nil {
		return nil, err
	}
	entry, definedIn := hier.Lookup(callerDefinedIn.Super, methodID)
	if entry == nil {
		return nil, ErrMethodMissing
	}
	plan, err := resolveEntry(hier, definedIn, entry, info, callerSelfClass)
	if err != nil {
		return nil, err
	}
	callerEntry, _ := hier.Lookup(callerDefinedIn, methodID)
	plan.IsSuper = true
	plan.CallerMethodEntry = callerEntry
	plan.CallerDefinedIn = callerDefinedIn
	return plan, nil
}

// resolveEntry applies visibility and alias resolution, then fills in the
// per-DefinitionKind payload, for both the ordinary and super paths.
func resolveEntry(hier *classes.Hierarchy, definedIn *classes.Class, entry *classes.MethodEntry, info bytecode.CallInfo, callerSelfClass *classes.Class) (*Plan, error) {
	// Alias: follow alias targets until a non-alias entry, redispatch on its kind.
	for entry.Definition.Kind == classes.DefAlias && entry.Definition.AliasTarget != nil {
		entry = entry.Definition.AliasTarget
	}

	if entry.Visibility == classes.Private && !info.Functional {
		return nil, ErrPrivateCallHasReceiver
	}

	plan := &Plan{Entry: entry, DefinedIn: definedIn, Info: info}
	if entry.Visibility == classes.Protected {
		plan.NeedsAncestryGuard = true
	}

	switch entry.Definition.Kind {
	case classes.DefBytecode:
		body, ok := entry.Definition.Body.(*bytecode.Body)
		if !ok {
			return nil, ErrUnsupportedCalleeSignature
		}
		plan.Callee = body
	case classes.DefNative:
		addr, ok := entry.Definition.NativeFunc.(uintptr)
		if !ok {
			return nil, ErrUnsupportedDefinitionKind
		}
		if !entry.Definition.NativeArity.Variadic && entry.Definition.NativeArity.Fixed > maxNativeCallArgs {
			return nil, ErrNativeArityUnsupported
		}
		plan.NativeAddr = addr
		plan.NativeArity = entry.Definition.NativeArity
	case classes.DefAccessor:
		if info.ArgCount != 0 {
			return nil, ErrUnsupportedCalleeSignature
		}
		plan.IVarName = entry.Definition.IVarName
	default:
		return nil, ErrUnsupportedDefinitionKind
	}
	return plan, nil
}
