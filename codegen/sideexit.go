package codegen

// SideExitReason names why a side exit was taken, mirroring
// yjit_codegen.c's COUNTED_EXIT convention of tagging every exit path with
// a distinct reason (§C.3 of the expanded design). The counting/stats
// sink itself is not implemented here -- only the tag, which is useful on
// its own for diagnostics and tests.
type SideExitReason uint8

const (
	ReasonUnsupportedOpcode SideExitReason = iota
	ReasonUnsupportedCallShape
	ReasonClassGuardFailed
	ReasonFixnumGuardFailed
	ReasonHeapGuardFailed
	ReasonStringGuardFailed
	ReasonArrayGuardFailed
	ReasonHashGuardFailed
	ReasonOverflowAdd
	ReasonOverflowSub
	ReasonChainLimitExceeded
	ReasonWriteBarrierRequired
	ReasonIVarEmbedMismatch
	ReasonIVarIndexOutOfRange
	ReasonArefIndexNotFixnum
	ReasonInterruptPending
	ReasonMethodMissing
	ReasonSuperclassRebound
	ReasonTracingActivated
)

// String names a reason for diagnostics and test failure messages.
func (r SideExitReason) String() string {
	switch r {
	case ReasonUnsupportedOpcode:
		return "unsupported_opcode"
	case ReasonUnsupportedCallShape:
		return "unsupported_call_shape"
	case ReasonClassGuardFailed:
		return "class_guard_failed"
	case ReasonFixnumGuardFailed:
		return "fixnum_guard_failed"
	case ReasonHeapGuardFailed:
		return "heap_guard_failed"
	case ReasonStringGuardFailed:
		return "string_guard_failed"
	case ReasonArrayGuardFailed:
		return "array_guard_failed"
	case ReasonHashGuardFailed:
		return "hash_guard_failed"
	case ReasonOverflowAdd:
		return "overflow_add"
	case ReasonOverflowSub:
		return "overflow_sub"
	case ReasonChainLimitExceeded:
		return "chain_limit_exceeded"
	case ReasonWriteBarrierRequired:
		return "write_barrier_required"
	case ReasonIVarEmbedMismatch:
		return "setivar_embed_mismatch"
	case ReasonIVarIndexOutOfRange:
		return "getivar_idx_out_of_range"
	case ReasonArefIndexNotFixnum:
		return "aref_index_not_fixnum"
	case ReasonInterruptPending:
		return "interrupt_pending"
	case ReasonMethodMissing:
		return "method_missing"
	case ReasonSuperclassRebound:
		return "superclass_rebound"
	case ReasonTracingActivated:
		return "tracing_activated"
	default:
		return "unknown"
	}
}

// SideExit is the descriptor recorded for one compiled exit path: where in
// the bytecode it reconstructs state for, and why it was taken. §4.G's
// invalidation patch overwrites a block's entry with a jump to the block's
// prebuilt side-exit unit (CompiledBlock.sideExit); the descriptor is kept for diagnostics even though the
// counting/stats sink (§C.3) is out of scope.
type SideExit struct {
	PC     int64
	Reason SideExitReason
}
