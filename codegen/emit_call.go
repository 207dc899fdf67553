package codegen

import (
	"unsafe"

	"github.com/bbvjit/corevm/abi"
	"github.com/bbvjit/corevm/bytecode"
	"github.com/bbvjit/corevm/callsite"
	"github.com/bbvjit/corevm/classes"
	"github.com/bbvjit/corevm/internal/native"
	"github.com/bbvjit/corevm/invalidate"
	"github.com/bbvjit/corevm/jitctx"
	"github.com/bbvjit/corevm/value"
	"github.com/bbvjit/corevm/version"
)

// emitSend implements §4.F's call-site lowering entry point for `send`
// and `send-without-block`: fetch the call-info descriptor, resolve the
// method against the (not-yet-guarded) receiver class, then hand off to
// the shared dispatch-on-kind lowering.
func emitSend(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	info, ok := c.body.CallInfoAt(instr.Operands[0])
	if !ok {
		return CannotCompile
	}

	recvDepth := info.ArgCount
	var recvType jitctx.Type
	if info.Functional {
		recvType = c.ctx.SelfType
	} else {
		recvType = c.ctx.StackType(recvDepth)
	}
	if recvType.Class == nil {
		// "if receiver class not yet known at compile time, defer
		// compilation" -- realized here as cannot-compile, since this
		// layer has no separate deferred-recompile queue; the caller
		// side-exits and the next entry recompiles with the stack
		// populated.
		return CannotCompile
	}

	plan, err := callsite.Resolve(c.hier, recvType.Class, info, c.ctx.SelfType.Class)
	if err != nil {
		return CannotCompile
	}

	var receiverReg int16 = native.ScratchRegister
	if info.Functional {
		c.bd.EmitLoadMem(receiverReg, native.FrameRegister, abi.FrameSelf*8)
	} else {
		c.bd.EmitLoadStackWord(receiverReg, recvDepth)
	}

	return emitResolvedCall(c, plan, info, recvType, receiverReg, !info.Functional, false)
}

// emitInvokeSuper implements §4.F's "invoke-super performs analogous
// work": lookup starts one level above the currently-executing method's
// defined-in class, plus three additional guards/assumptions the
// ordinary send path doesn't need.
func emitInvokeSuper(c *Compiler, instr bytecode.Instruction) EmitResult {
	if len(instr.Operands) < 1 {
		return CannotCompile
	}
	info, ok := c.body.CallInfoAt(instr.Operands[0])
	if !ok {
		return CannotCompile
	}
	current := c.CurrentMethod()
	if current == nil {
		return CannotCompile
	}

	recvType := c.ctx.SelfType
	if recvType.Class == nil {
		return CannotCompile
	}

	plan, err := callsite.ResolveSuper(c.hier, current.DefinedIn, current.Name, info, recvType.Class)
	if err != nil {
		return CannotCompile
	}

	receiverReg := native.ScratchRegister
	c.bd.EmitLoadMem(receiverReg, native.FrameRegister, abi.FrameSelf*8)

	// (a) rebind guard: the current frame's method-entry slot must still
	// be the entry this block was compiled against (a block-bound
	// receiver may have rebound a method between compile and execution).
	c.bd.EmitLoadMem(native.Scratch1Register, native.FrameRegister, abi.FrameEnvironment*8)
	c.bd.EmitLoadMem(native.Scratch1Register, native.Scratch1Register, abi.EnvMethodEntry*8)
	c.bd.EmitCompareImm(native.Scratch1Register, int64(uintptr(unsafe.Pointer(current))))
	reboundLabel := c.newLabel("super_rebound")
	c.bd.EmitJumpIfNotZero(reboundLabel)
	c.coldPaths = append(c.coldPaths, coldPath{label: reboundLabel, reason: ReasonSuperclassRebound})

	// (b) no implicit block forwarding unless this call site explicitly
	// carries one.
	if !info.HasBlock {
		c.bd.EmitLoadMem(native.Scratch1Register, native.FrameRegister, abi.FrameEnvironment*8)
		c.bd.EmitLoadMem(native.Scratch1Register, native.Scratch1Register, abi.EnvBlockHandler*8)
		c.bd.EmitCompareImm(native.Scratch1Register, 0)
		blockLabel := c.newLabel("super_implicit_block")
		c.bd.EmitJumpIfNotZero(blockLabel)
		c.coldPaths = append(c.coldPaths, coldPath{label: blockLabel, reason: ReasonUnsupportedCallShape})
	}

	// (c) two extra assumptions, both rooted at the same method id: the
	// caller's defined-in class, and the superclass's method table.
	c.assume(invalidate.Key{Kind: invalidate.AssumeMethodLookupStable, ClassName: plan.CallerDefinedIn.Name, MethodID: current.Name})
	c.assume(invalidate.Key{Kind: invalidate.AssumeMethodLookupStable, ClassName: plan.DefinedIn.Name, MethodID: current.Name})

	return emitResolvedCall(c, plan, info, recvType, receiverReg, false, true)
}

// emitResolvedCall is the dispatch-on-kind lowering shared by emitSend and
// emitInvokeSuper once a Plan has been produced: chain-guard the receiver
// class, emit the protected-method ancestry guard if needed, register the
// method-lookup assumption, then lower the callee per its DefinitionKind.
// receiverOnStack is true only for a non-functional send, where the
// receiver occupies a context stack slot below the arguments (invoke-super
// and functional sends address self implicitly, never pushing it).
func emitResolvedCall(c *Compiler, plan *callsite.Plan, info bytecode.CallInfo, recvType jitctx.Type, receiverReg int16, receiverOnStack, isSuper bool) EmitResult {
	if !recvType.Heap {
		c.guardHeap(receiverReg)
	}
	c.bd.EmitLoadMem(native.TempRegister, receiverReg, objClassOffset)
	siteKind := version.SiteGenericSend
	if err := c.chainGuardKnownClass(native.TempRegister, recvType.Class, siteKind); err != nil {
		return CannotCompile
	}

	if plan.NeedsAncestryGuard {
		callerSelf := native.Scratch1Register
		c.bd.EmitLoadMem(callerSelf, native.FrameRegister, abi.FrameSelf*8)
		definedIn := native.TempRegister
		c.bd.EmitMoveImm64(definedIn, int64(uintptr(unsafe.Pointer(plan.DefinedIn))))
		if err := c.bd.EmitCallHostPrimitive(abi.ExecIsAKindOfPrimitive, callerSelf, definedIn); err != nil {
			return CannotCompile
		}
		okLabel := c.newLabel("ancestry_ok")
		c.bd.EmitCompareImm(native.ResultRegister, 0)
		c.bd.EmitJumpIfNotZero(okLabel)
		failLabel := c.newLabel("ancestry_fail")
		c.bd.EmitJump(failLabel)
		c.coldPaths = append(c.coldPaths, coldPath{label: failLabel, reason: ReasonUnsupportedCallShape})
		c.bd.Label(okLabel)
	}

	if !isSuper {
		c.assume(invalidate.Key{Kind: invalidate.AssumeMethodLookupStable, ClassName: plan.DefinedIn.Name, MethodID: info.MethodName})
	}

	switch plan.Entry.Definition.Kind {
	case classes.DefBytecode:
		return emitBytecodeCall(c, plan, info, receiverReg, receiverOnStack)
	case classes.DefNative:
		return emitNativeCall(c, plan, info, receiverReg, receiverOnStack)
	case classes.DefAccessor:
		if info.ArgCount != 0 {
			return CannotCompile
		}
		if receiverOnStack {
			c.bd.EmitPop(receiverReg)
			c.ctx.Pop()
		}
		return emitIVarReadNamed(c, receiverReg, recvType.Class, plan.IVarName)
	default:
		return CannotCompile
	}
}

// emitBytecodeCall implements §4.F's bytecode-callee lowering, steps 1-8.
func emitBytecodeCall(c *Compiler, plan *callsite.Plan, info bytecode.CallInfo, receiverReg int16, receiverOnStack bool) EmitResult {
	body := plan.Callee
	if body.OptArgCount == 0 {
		if info.ArgCount != body.RequiredArgCount {
			return CannotCompile
		}
	} else if info.ArgCount < body.RequiredArgCount || info.ArgCount > body.RequiredArgCount+body.OptArgCount {
		return CannotCompile
	}

	if body.IsLeafBuiltinDelegate() {
		return emitLeafBuiltinCall(c, plan, info, receiverReg, receiverOnStack)
	}

	// receiverReg is ScratchRegister, which the frame-construction sequence
	// below reuses repeatedly for immediate loads; save it somewhere that
	// survives until the FrameSelf store.
	savedReceiver := native.TempRegister
	c.bd.EmitMoveReg(savedReceiver, receiverReg)

	retPC := c.body.NextPC(c.pc)

	// Step 1: interrupt check. A stack-overflow check against a control-
	// frame capacity field is elided -- this module's abi.Frame layout has
	// no such field; see DESIGN.md.
	emitInterruptCheck(c)

	// Step 2: caller's visible stack pointer already reflects the popped
	// receiver and arguments once the JIT stack pointer register is
	// rewound below; record it on the current frame now.
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameSP*8, native.StackPointerRegister)

	// Step 3: resume PC.
	c.bd.EmitMoveImm64(native.ScratchRegister, retPC)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FramePC*8, native.ScratchRegister)

	// Step 5 (no block operand modeled at this ABI surface; step 4 is a
	// no-op here -- see DESIGN.md): nil-fill any locals beyond the
	// supplied arguments, directly atop the argument words already on the
	// JIT stack, then write the 3-word preamble.
	for i := info.ArgCount; i < body.LocalCount; i++ {
		c.bd.EmitMoveImm64(native.ScratchRegister, int64(value.Nil))
		c.bd.EmitPush(native.ScratchRegister)
	}
	c.bd.EmitMoveImm64(native.ScratchRegister, int64(uintptr(unsafe.Pointer(plan.Entry))))
	c.bd.EmitPush(native.ScratchRegister) // EnvMethodEntry
	blockHandler := int64(0)
	if info.HasBlock {
		blockHandler = 1 // a bare tag bit; no frame address is encoded (see DESIGN.md)
	}
	c.bd.EmitMoveImm64(native.ScratchRegister, blockHandler)
	c.bd.EmitPush(native.ScratchRegister) // EnvBlockHandler
	c.bd.EmitMoveImm64(native.ScratchRegister, 0)
	c.bd.EmitPush(native.ScratchRegister) // flags/magic
	envBase := native.Scratch1Register
	c.bd.EmitMoveReg(envBase, native.StackPointerRegister) // one past the flags word: the preamble sits at abi.EnvMethodEntry..abi.EnvFlags from here

	// Step 6: decrement the frame counter (push a new, lower frame) and
	// populate it.
	c.bd.EmitAddImm(native.FrameRegister, -abi.FrameWords*8)
	c.bd.EmitMoveImm64(native.ScratchRegister, calleeEntryPC(body, info.ArgCount))
	c.bd.EmitStoreMem(native.FrameRegister, abi.FramePC*8, native.ScratchRegister)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameSP*8, native.StackPointerRegister)
	c.bd.EmitMoveImm64(native.ScratchRegister, int64(uintptr(unsafe.Pointer(body))))
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameBytecodeRef*8, native.ScratchRegister)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameSelf*8, savedReceiver)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameEnvironment*8, envBase)
	c.bd.EmitMoveImm64(native.ScratchRegister, 0)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameBlockCode*8, native.ScratchRegister)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameBasePointer*8, envBase)

	// Step 7: return stub for the continuation; the return context has
	// the call's operands (arguments, plus the receiver if it occupied a
	// context stack slot) popped and one unknown result pushed.
	popCount := info.ArgCount
	if receiverOnStack {
		popCount++
	}
	for i := 0; i < popCount; i++ {
		c.ctx.Pop()
	}
	c.ctx.Push(jitctx.Unknown)
	stub, err := NewStub(c.body, retPC, c.ctx.Dup(), c.alloc)
	if err != nil {
		return CannotCompile
	}
	addr := stub.Addr()
	c.bd.EmitMoveImm64(native.ScratchRegister, int64(addr))
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameJITReturn*8, native.ScratchRegister)

	// Step 8: reload the stack pointer from the new frame, clear locals
	// (the callee may mutate through meta-programming), and jump to the
	// callee's start, lazily compiled on first hit via a stub.
	c.bd.EmitLoadMem(native.StackPointerRegister, native.FrameRegister, abi.FrameSP*8)
	c.ctx.ClearLocalTypes()

	calleeStub, err := NewStub(body, calleeEntryPC(body, info.ArgCount), jitctx.New(), c.alloc)
	if err != nil {
		return CannotCompile
	}
	c.bd.EmitMoveImm64(native.ScratchRegister, int64(calleeStub.Addr()))
	c.bd.EmitJumpToRegister(native.ScratchRegister)
	return EndBlock
}

// emitLeafBuiltinCall implements §4.F's leaf-builtin inlining: skip frame
// construction entirely when the callee is exactly a builtin delegate
// followed by leave, calling the builtin's function pointer directly.
func emitLeafBuiltinCall(c *Compiler, plan *callsite.Plan, info bytecode.CallInfo, receiverReg int16, receiverOnStack bool) EmitResult {
	addr, ok := plan.Entry.Definition.NativeFunc.(uintptr)
	if !ok {
		return CannotCompile
	}
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameSP*8, native.StackPointerRegister)

	args := make([]int16, 0, info.ArgCount+1)
	args = append(args, receiverReg)
	for i := 0; i < info.ArgCount; i++ {
		reg := native.Scratch1Register
		c.bd.EmitLoadStackWord(reg, info.ArgCount-1-i)
		args = append(args, reg)
	}
	if err := c.bd.EmitCallAddress(addr, args...); err != nil {
		return CannotCompile
	}

	popCount := info.ArgCount
	if receiverOnStack {
		popCount++
	}
	for i := 0; i < popCount; i++ {
		c.ctx.Pop()
	}
	c.bd.EmitAddImm(native.StackPointerRegister, int64(-8*popCount))
	c.bd.EmitPush(native.ResultRegister)
	c.ctx.Push(jitctx.Unknown)
	return KeepCompiling
}

// emitNativeCall implements §4.F's native-callee lowering. A native callee
// gets a control frame pushed just like a bytecode callee (tagged with
// abi.EnvFlagCFuncFrame so a side-exit reconstructing state downstream can
// tell the two apart), because it is the one shape of callee that can run
// arbitrary host code the compiler has no visibility into: a tracing event
// enabled while the native function runs must be observed the moment
// control returns, not merely by invalidating this block's entry (which
// only catches *future* re-entries, not this in-flight one -- see
// DESIGN.md's discussion of Open Question #13). After the call, the frame
// is popped, the result pushed, and compilation ends with a jump-chain to
// a stub for the continuation, as emitBranch's OpJump case does.
func emitNativeCall(c *Compiler, plan *callsite.Plan, info bytecode.CallInfo, receiverReg int16, receiverOnStack bool) EmitResult {
	if c.tracker.TracingEnabled() {
		return CannotCompile
	}
	if !plan.NativeArity.Variadic && info.ArgCount != plan.NativeArity.Fixed {
		return CannotCompile
	}
	c.assume(invalidate.Key{Kind: invalidate.AssumeTracingOff})

	// receiverReg is ScratchRegister, which the frame-construction sequence
	// below reuses repeatedly for immediate loads; save it somewhere that
	// survives until the FrameSelf store, mirroring emitBytecodeCall.
	savedReceiver := native.TempRegister
	c.bd.EmitMoveReg(savedReceiver, receiverReg)

	retPC := c.body.NextPC(c.pc)

	// Step 1: interrupt check, same as the bytecode-callee path.
	emitInterruptCheck(c)

	// Step 2: caller's visible stack pointer.
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameSP*8, native.StackPointerRegister)

	// Step 3: resume PC.
	c.bd.EmitMoveImm64(native.ScratchRegister, retPC)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FramePC*8, native.ScratchRegister)

	// A native callee has no locals to nil-fill; the 3-word environment
	// preamble sits directly atop the still-present receiver/argument
	// words on the JIT stack.
	c.bd.EmitMoveImm64(native.ScratchRegister, int64(uintptr(unsafe.Pointer(plan.Entry))))
	c.bd.EmitPush(native.ScratchRegister) // EnvMethodEntry
	blockHandler := int64(0)
	if info.HasBlock {
		blockHandler = 1
	}
	c.bd.EmitMoveImm64(native.ScratchRegister, blockHandler)
	c.bd.EmitPush(native.ScratchRegister) // EnvBlockHandler
	c.bd.EmitMoveImm64(native.ScratchRegister, int64(abi.EnvFlagCFuncFrame))
	c.bd.EmitPush(native.ScratchRegister) // flags/magic: marks this a C-function frame
	envBase := native.Scratch1Register
	c.bd.EmitMoveReg(envBase, native.StackPointerRegister) // one past the flags word, as in emitBytecodeCall

	c.bd.EmitAddImm(native.FrameRegister, -abi.FrameWords*8)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameSP*8, native.StackPointerRegister)
	c.bd.EmitMoveImm64(native.ScratchRegister, 0)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameBytecodeRef*8, native.ScratchRegister)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameSelf*8, savedReceiver)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameEnvironment*8, envBase)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameBlockCode*8, native.ScratchRegister)
	c.bd.EmitStoreMem(native.FrameRegister, abi.FrameBasePointer*8, envBase)

	// The 3-word preamble just pushed shifts the still-present receiver/
	// argument words three slots further down the JIT stack.
	const argStackBase = 3

	var args []int16
	if plan.NativeArity.Variadic {
		// (argc, argv, receiver) form only; the Ruby-array variadic form
		// is cannot-compile per §4.F and is never produced by
		// callsite.Resolve (classes.Arity has no third variadic shape).
		argcReg := native.Scratch1Register
		c.bd.EmitMoveImm64(argcReg, int64(info.ArgCount))
		// ResultRegister is free here (nothing has written it yet this
		// call) and TempRegister is already pinned to savedReceiver.
		argvReg := native.ResultRegister
		c.bd.EmitMoveReg(argvReg, native.StackPointerRegister)
		c.bd.EmitAddImm(argvReg, int64(-8*(info.ArgCount+argStackBase)))
		args = []int16{argcReg, argvReg, savedReceiver}
	} else {
		args = append(args, savedReceiver)
		argRegs := [2]int16{native.ScratchRegister, native.Scratch1Register}
		if info.ArgCount > len(argRegs) {
			// Register-starved: savedReceiver already pins TempRegister,
			// leaving only these two free for operands.
			return CannotCompile
		}
		for i := 0; i < info.ArgCount; i++ {
			reg := argRegs[i]
			c.bd.EmitLoadStackWord(reg, argStackBase+info.ArgCount-1-i)
			args = append(args, reg)
		}
	}

	if err := c.bd.EmitCallAddress(plan.NativeAddr, args...); err != nil {
		return CannotCompile
	}

	// Patch point: poll the host-owned tracing-armed word immediately on
	// return from the native callee, since that call is the one place in
	// this block arbitrary host code could have run and flipped it.
	c.bd.EmitLoadMem(native.TempRegister, native.ExecContextRegister, abi.ExecTracingActive*8)
	tracingLabel := c.newLabel("native_call_tracing_check")
	c.bd.EmitTestBits(native.TempRegister, -1)
	c.bd.EmitJumpIfNotZero(tracingLabel)
	c.coldPaths = append(c.coldPaths, coldPath{label: tracingLabel, reason: ReasonTracingActivated})

	c.bd.EmitAddImm(native.FrameRegister, abi.FrameWords*8) // pop the C-function frame

	popCount := info.ArgCount
	if receiverOnStack {
		popCount++
	}
	// Retreat the JIT value stack past the 3-word environment preamble
	// pushed above and past the call's receiver/argument words, so the
	// result push below overwrites the lowest of them in place.
	c.bd.EmitAddImm(native.StackPointerRegister, int64(-8*(abi.EnvPreambleWords+popCount)))
	for i := 0; i < popCount; i++ {
		c.ctx.Pop()
	}
	c.bd.EmitPush(native.ResultRegister)
	c.ctx.Push(jitctx.Unknown)
	c.ctx.ClearLocalTypes()

	label, err := c.registerStubEdge(retPC)
	if err != nil {
		return CannotCompile
	}
	c.bd.EmitJump(label)
	return EndBlock
}

// calleeEntryPC picks the bytecode offset execution starts at, accounting
// for how many optional parameters were filled by this call site, per
// §4.F step 6's "offset into the opt table".
func calleeEntryPC(body *bytecode.Body, argCount int) int64 {
	optsFilled := argCount - body.RequiredArgCount
	if optsFilled > 0 && optsFilled <= len(body.OptEntryPCs) {
		return body.OptEntryPCs[optsFilled-1]
	}
	return body.EntryPC
}
