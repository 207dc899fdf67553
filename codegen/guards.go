package codegen

import (
	"unsafe"

	"github.com/bbvjit/corevm/classes"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/value"
	"github.com/bbvjit/corevm/version"
)

// guardFixnum emits a runtime check that the value in reg is a tagged
// integer, deferring a cold-path side exit if not. This mirrors
// guard_two_fixnums's single-operand building block in
// yjit_codegen.c (§C.4 of the expanded design): factored once here and
// reused by the comparison, arithmetic and indexed-access emitters rather
// than inlined at each call site.
func (c *Compiler) guardFixnum(reg int16) {
	label := c.newLabel("not_fixnum")
	c.bd.EmitTestBits(reg, 0x1)
	c.bd.EmitJumpIfZero(label)
	c.coldPaths = append(c.coldPaths, coldPath{label: label, reason: ReasonFixnumGuardFailed})
}

// guardHeap emits a runtime check that the value in reg is a heap
// pointer (low 3 bits clear and neither nil nor false), deferring a
// cold-path side exit if not. Mirrors guard_self_is_heap (§C.4).
func (c *Compiler) guardHeap(reg int16) {
	label := c.newLabel("not_heap")
	c.bd.EmitTestBits(reg, 0x7)
	c.bd.EmitJumpIfNotZero(label)
	c.bd.EmitCompareImm(reg, int64(value.Nil))
	c.bd.EmitJumpIfZero(label)
	c.bd.EmitCompareImm(reg, int64(value.False))
	c.bd.EmitJumpIfZero(label)
	c.coldPaths = append(c.coldPaths, coldPath{label: label, reason: ReasonHeapGuardFailed})
}

// guardKnownClass emits a one-shot runtime check that the class pointer in
// reg equals want, deferring a cold-path side exit if not. No emitter
// calls it at present: the instance-variable-get and call-site emitters
// use chainGuardKnownClass, which chain-guards the same comparison.
func (c *Compiler) guardKnownClass(reg int16, want *classes.Class) {
	label := c.newLabel("wrong_class")
	c.bd.EmitCompareImm(reg, int64(uintptr(unsafe.Pointer(want))))
	c.bd.EmitJumpIfNotZero(label)
	c.coldPaths = append(c.coldPaths, coldPath{label: label, reason: ReasonClassGuardFailed})
}

// chainGuardAt implements jit_chain_guard's depth semantics (§C.2): it
// recurses off startingCtx -- the context as it stood at the *entry* of
// the current instruction, before any narrowing already performed
// earlier in this same guard chain -- rather than the partially-narrowed
// context at the point of the failing guard. On success execution falls
// through inline; on failure it defers either to a deeper, more
// specialized Stub (while the site's chain-depth limit, package version,
// allows one more version) or to a plain side exit once the limit is
// reached.
func (c *Compiler) chainGuardAt(startingCtx *jitctx.Context, kind version.SiteKind, reason SideExitReason) (string, error) {
	label := c.newLabel("chain")
	next, ok := version.NextChainContext(startingCtx, kind)
	if !ok {
		c.coldPaths = append(c.coldPaths, coldPath{label: label, reason: reason})
		return label, nil
	}
	stub, err := NewStub(c.body, c.pc, next, c.alloc)
	if err != nil {
		return "", err
	}
	addr := stub.Addr()
	c.coldPaths = append(c.coldPaths, coldPath{label: label, target: &addr})
	return label, nil
}

// chainGuardKnownClass compares the class pointer in reg against want and
// chain-guards the failure path, combining guardKnownClass's comparison
// with chainGuardAt's stub-or-exit recursion. Used by the instance-
// variable-get and call-site-lowering emitters, both of which re-derive
// §4.C's chain-guarded "receiver's class equals compile-time class"
// check rather than a one-shot guard.
func (c *Compiler) chainGuardKnownClass(reg int16, want *classes.Class, kind version.SiteKind) error {
	c.bd.EmitCompareImm(reg, int64(uintptr(unsafe.Pointer(want))))
	label, err := c.chainGuardAt(c.entryCtx, kind, ReasonClassGuardFailed)
	if err != nil {
		return err
	}
	c.bd.EmitJumpIfNotZero(label)
	return nil
}
