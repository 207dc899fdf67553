// Package abi collects the fixed, wire-compatible layout constants that
// generated code and the (externally owned) interpreter must agree on:
// frame and environment word offsets, and the reserved-register convention
// used by the native backend. None of this is configurable — it documents
// an ABI the host already defines, per §6 of the design.
package abi

// Frame word offsets, in machine words, from the base of a control frame.
// The JIT's call-site lowering (package codegen) writes frames in exactly
// this order; the interpreter reads the same layout on a side-exit.
const (
	FramePC          = 0 // program counter
	FrameSP          = 1 // stack pointer
	FrameBytecodeRef = 2 // owning bytecode body pointer
	FrameSelf        = 3 // self
	FrameEnvironment = 4 // environment pointer
	FrameBlockCode   = 5 // block code pointer, or none
	FrameBasePointer = 6 // base pointer
	FrameJITReturn   = 7 // populated by a JIT caller; nil from the interpreter

	FrameWords = 8
)

// Environment preamble word offsets, relative to the environment pointer.
// The preamble occupies the three words directly below the environment
// pointer, the locals sit below the preamble, and the operand stack starts
// at the environment pointer.
const (
	EnvMethodEntry  = -3
	EnvBlockHandler = -2
	EnvFlags        = -1

	EnvPreambleWords = 3
)

// EnvFlag bits stored at EnvFlags.
type EnvFlag uint32

const (
	// EnvFlagWriteBarrier marks an environment escaped onto the heap and
	// requiring a write-barrier on every local store. Emitters for local
	// sets must test this bit and side-exit rather than inline the store.
	EnvFlagWriteBarrier EnvFlag = 1 << iota
	// EnvFlagCFuncFrame marks a frame pushed for a native (C-like) callee,
	// used by the invalidation patch-point logic for tracing events.
	EnvFlagCFuncFrame
)

// Reserved registers used by the native backend (package internal/native).
// These names are logical; the amd64 backend maps them onto concrete
// machine registers (see internal/native.backend_amd64.go).
const (
	RegExecContext = "EC" // pointer to the execution context
	RegCurrentFrame = "CFP" // pointer to the current control frame
	RegStackPointer = "SP"  // current JIT-visible stack pointer
	RegScratch0     = "R0"  // scratch
	RegScratch1     = "R1"  // scratch
)

// Execution-context word offsets for the host primitive function table,
// consulted by call-site lowering (package codegen) and indexed access
// (package codegen) whenever generated code must call back into the host
// rather than inline an operation -- array/hash element fetch chief among
// them, per §4.E's "calls the host's internal array-entry primitive".
const (
	ExecArrayEntryPrimitive = 0 // func(execCtx, receiver, index) Word
	ExecHashFetchPrimitive  = 1 // func(execCtx, receiver, key) Word
	// ExecIsAKindOfPrimitive backs the protected-method ancestry guard of
	// §4.F ("a call to the host's is-a-kind-of? primitive").
	ExecIsAKindOfPrimitive = 2 // func(execCtx, self, definedInClass) Word (boolean)

	ExecPrimitiveTableWords = 3

	// ExecInterruptFlags is the execution context's pending-interrupt
	// flags word, tested by every backwards branch per §4.E ("on a
	// backwards offset, first emit an interrupt check"). This module
	// treats any nonzero value as pending rather than modeling individual
	// interrupt-cause bits -- see DESIGN.md.
	ExecInterruptFlags = ExecPrimitiveTableWords

	// ExecTracingActive is the execution context's tracing-armed word, set
	// by the host the moment any tracing event gets enabled and never
	// written by generated code. A native callee is the one place within a
	// block where the host can run arbitrary, unbounded code, so it is the
	// one mid-block point generated code polls this word rather than
	// relying solely on entry-point invalidation -- see DESIGN.md.
	ExecTracingActive = ExecInterruptFlags + 1
)

// EmbeddedIVarCapacity is the number of instance-variable slots stored
// inline in an object's header before the JIT must fall back to the
// out-of-line extended table, per §4.E step 4/5's embed-capacity check.
const EmbeddedIVarCapacity = 3

// ObjectHeader bit layout, mirroring §6 "Object header (bit level)".
type HeaderFlag uint32

const (
	HeaderSingleton HeaderFlag = 1 << iota
	HeaderWBProtected
	HeaderFrozen
	HeaderPromoted
	HeaderCloned
	HeaderModuleIsRefinement
	HeaderOriginSharedMTbl
	HeaderIncludedIntoRefinement
	HeaderEmbed

	// HeaderEmbedLenShift is the bit position of the embed-length field;
	// HeaderEmbedLenMask isolates it once shifted into place.
	HeaderEmbedLenShift = 10
	HeaderEmbedLenMask  = 0x3ff << HeaderEmbedLenShift
)
