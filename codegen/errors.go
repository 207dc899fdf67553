package codegen

import "fmt"

// ErrCannotCompile names the cannot-compile outcome of §4.D/§7 class 1
// ("a silent fallback"). CompileBlock does not return it: a missing
// emitter or an emitter's cannot-compile result becomes a side exit
// recorded on the returned block instead.
var ErrCannotCompile = fmt.Errorf("codegen: cannot compile")

// ErrEmitBufferExhausted models §5's "fatal invariant violation" for
// running out of executable memory near the tail of an emit buffer.
var ErrEmitBufferExhausted = fmt.Errorf("codegen: emit buffer exhausted")

// UnsupportedOpcodeError names the specific opcode a dispatch lookup
// failed to find an emitter for, for diagnostics.
type UnsupportedOpcodeError struct {
	Offset int64
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("codegen: no emitter registered for the opcode at offset %d", e.Offset)
}

// UnsupportedCallShapeError names a call site §4.F refused to lower
// (keyword/splat/block args, or an unsupported callee signature shape).
type UnsupportedCallShapeError struct {
	Reason string
}

func (e *UnsupportedCallShapeError) Error() string {
	return "codegen: unsupported call shape: " + e.Reason
}
