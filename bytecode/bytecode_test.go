package bytecode

import "testing"

func TestInstructionWords(t *testing.T) {
	cases := []struct {
		op   Opcode
		want int
	}{
		{OpNop, 1},
		{OpPutFixnum, 2},
		{OpGetLocal, 3},
		{OpLeave, 1},
	}
	for _, c := range cases {
		if got := InstructionWords(c.op); got != c.want {
			t.Errorf("InstructionWords(%v) = %d, want %d", c.op, got, c.want)
		}
	}
}

func TestInstructionWordsUnknownOpcode(t *testing.T) {
	if got := InstructionWords(Opcode(0xffff)); got != -1 {
		t.Errorf("InstructionWords(unknown) = %d, want -1", got)
	}
}

func TestBodyNextPC(t *testing.T) {
	b := &Body{
		Instructions: []Instruction{
			{Offset: 0, Op: OpPutFixnum, Operands: []int64{1}},
			{Offset: 2, Op: OpLeave},
		},
	}
	if got := b.NextPC(0); got != 2 {
		t.Errorf("NextPC(0) = %d, want 2", got)
	}
}

func TestIsLeafBuiltinDelegate(t *testing.T) {
	b := &Body{Instructions: []Instruction{{Op: OpSend}, {Op: OpLeave}}}
	if !b.IsLeafBuiltinDelegate() {
		t.Errorf("expected leaf builtin delegate shape to be recognized")
	}
	b2 := &Body{Instructions: []Instruction{{Op: OpSend}, {Op: OpPop}, {Op: OpLeave}}}
	if b2.IsLeafBuiltinDelegate() {
		t.Errorf("3-instruction body should not be recognized as leaf builtin delegate")
	}
}
