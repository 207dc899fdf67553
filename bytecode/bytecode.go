// Package bytecode is the shared data model for the instruction stream the
// JIT compiles: opcodes, fixed-width operand words, and the per-opcode
// length table that lets the compiler and the (externally owned)
// interpreter agree on instruction boundaries without a side table.
//
// This is deliberately the smallest possible ABI: one opcode word followed
// by a fixed number of operand words, per §6 "Bytecode ABI". There is no
// LEB128 or other variable-width encoding here — that is a WebAssembly-ism
// the host bytecode does not use.
package bytecode

// Opcode identifies a single bytecode instruction. The concrete numbering
// is internal to this module; it does not need to match any external
// bytecode compiler's numbering, only to be self-consistent between Body
// and the dispatch table in package codegen.
type Opcode uint16

// Opcodes named in spec.md §4.E, grouped by category. The list is
// representative, not exhaustive -- package codegen's dispatch table may
// leave any of these unregistered, in which case the compiler treats them
// as "cannot compile" per §4.D.
const (
	OpNop Opcode = iota

	// Stack shuffle
	OpDup
	OpDupN
	OpSwap
	OpSetN
	OpTopN
	OpPop
	OpAdjustStack

	// Literals
	OpPutNil
	OpPutTrue
	OpPutFalse
	OpPutFixnum
	OpPutObject
	OpPutString
	OpPutSpecialConst // __core__ etc.

	// Locals / environment
	OpGetLocal
	OpSetLocal

	// Instance variables
	OpGetIVar
	OpSetIVar

	// Comparisons and arithmetic
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpPlus
	OpMinus

	// Indexed access
	OpARef

	// Control flow
	OpBranchIfTruthy
	OpBranchIfFalsy
	OpBranchIfNil
	OpJump

	// Calls
	OpSend
	OpSendWithoutBlock
	OpInvokeSuper
	OpLeave
)

// operandWords is the length table referenced by §6: the number of 64-bit
// operand words following the opcode word, indexed by Opcode.
var operandWords = map[Opcode]int{
	OpNop:              0,
	OpDup:              0,
	OpDupN:             1,
	OpSwap:             0,
	OpSetN:             1,
	OpTopN:             1,
	OpPop:              0,
	OpAdjustStack:      1,
	OpPutNil:           0,
	OpPutTrue:          0,
	OpPutFalse:         0,
	OpPutFixnum:        1,
	OpPutObject:        1,
	OpPutString:        1,
	OpPutSpecialConst:  1,
	OpGetLocal:         2, // slot index, nesting level
	OpSetLocal:         2,
	OpGetIVar:          1, // ivar name id
	OpSetIVar:          1,
	OpLt:               0,
	OpLe:               0,
	OpGt:               0,
	OpGe:               0,
	OpEq:               0,
	OpPlus:             0,
	OpMinus:            0,
	OpARef:             0,
	OpBranchIfTruthy:   1, // signed word offset
	OpBranchIfFalsy:    1,
	OpBranchIfNil:      1,
	OpJump:             1,
	OpSend:             1, // call-info id
	OpSendWithoutBlock: 1,
	OpInvokeSuper:      1,
	OpLeave:            0,
}

// OperandWords returns the number of fixed operand words following op's
// opcode word, or -1 if op is not a recognized opcode.
func OperandWords(op Opcode) int {
	n, ok := operandWords[op]
	if !ok {
		return -1
	}
	return n
}

// InstructionWords returns the total instruction length in words
// (1 + operand count), used to compute the next-instruction PC for the
// branch-offset convention described in §6.
func InstructionWords(op Opcode) int {
	n := OperandWords(op)
	if n < 0 {
		return -1
	}
	return 1 + n
}

// Instruction is a single decoded bytecode instruction at a known offset.
type Instruction struct {
	Offset    int64
	Op        Opcode
	Operands  []int64
}

// Body is a self-contained unit of bytecode the JIT can compile blocks
// against: a flat instruction stream plus the static metadata the compiler
// needs (local slot count, whether locals need a write barrier check, and
// so on). It corresponds to an "iseq" in spec.md's vocabulary.
type Body struct {
	// Name is used only for diagnostics (side-exit reconstruction, test
	// failure messages); it is not part of any wire format.
	Name string

	Instructions []Instruction

	// Names is the symbol pool operands like OpGetIVar's "ivar name id"
	// and OpPutObject/OpPutString's literal id index into.
	Names []string

	// LocalCount is the number of local variable slots in this body's
	// environment, not counting the 3-word preamble (abi.EnvPreambleWords).
	LocalCount int

	// RequiredArgCount and OptArgCount describe the positional parameter
	// shape package codegen's emitBytecodeCall supports per §4.F: leading required
	// arguments followed by an opt table. Any other shape must be rejected
	// by the caller before constructing a Body for JIT purposes.
	RequiredArgCount int
	OptArgCount      int

	// EntryPC is the bytecode offset execution starts at for zero opts
	// filled; OptEntryPCs[i] is the entry point when i+1 optional arguments
	// were supplied, per §4.F step 6 ("offset into the opt table").
	EntryPC     int64
	OptEntryPCs []int64

	// CallInfos is the call-site descriptor pool OpSend, OpSendWithoutBlock
	// and OpInvokeSuper's "call-info id" operand indexes into.
	CallInfos []CallInfo
}

// CallInfo describes one call site's static shape, per §4.F's
// precondition list ("keyword splat absent, keyword hash absent,
// splat-argument absent, block-argument absent; otherwise cannot
// compile").
type CallInfo struct {
	MethodName string
	ArgCount   int

	// Functional is true for a call with no explicit receiver ("foo"
	// rather than "recv.foo"), permitting dispatch to a private method.
	Functional bool

	HasBlock      bool
	KeywordSplat  bool
	KeywordHash   bool
	SplatArg      bool
	BlockArg      bool
}

// CallInfoAt resolves a call-info pool id, or the zero value and false if
// id is out of range.
func (b *Body) CallInfoAt(id int64) (CallInfo, bool) {
	if id < 0 || int(id) >= len(b.CallInfos) {
		return CallInfo{}, false
	}
	return b.CallInfos[id], true
}

// NameAt resolves a symbol-pool id into its string, or "" if id is out of
// range.
func (b *Body) NameAt(id int64) string {
	if id < 0 || int(id) >= len(b.Names) {
		return ""
	}
	return b.Names[id]
}

// InstructionAt returns the instruction at bytecode offset pc, and whether
// one was found at exactly that offset.
func (b *Body) InstructionAt(pc int64) (Instruction, bool) {
	// Bodies are small and linear; a linear scan keeps this package free
	// of an auxiliary offset index that nothing else needs.
	for _, instr := range b.Instructions {
		if instr.Offset == pc {
			return instr, true
		}
	}
	return Instruction{}, false
}

// NextPC computes the offset of the instruction following the one at pc,
// per the branch-offset convention of §6 (relative to the
// next-instruction PC).
func (b *Body) NextPC(pc int64) int64 {
	instr, ok := b.InstructionAt(pc)
	if !ok {
		return pc
	}
	return pc + int64(InstructionWords(instr.Op))
}

// IsLeafBuiltinDelegate reports whether this body is exactly two
// instructions, an OpSend immediately followed by an OpLeave, the shape
// package codegen takes for the leaf-builtin inlining fast path of §4.F.
// Only the two opcodes are checked: there is no separate builtin-delegate
// opcode, and no inline-safety flag is consulted.
func (b *Body) IsLeafBuiltinDelegate() bool {
	return len(b.Instructions) == 2 &&
		b.Instructions[0].Op == OpSend &&
		b.Instructions[1].Op == OpLeave
}
