package native

import "testing"

func TestBuilderAssemblesSimpleSequence(t *testing.T) {
	bd, err := NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	bd.EmitMoveImm64(regScratch0, 7)
	bd.EmitReturn()
	if err := bd.ResolveLabels(); err != nil {
		t.Fatalf("ResolveLabels: %v", err)
	}
	code := bd.Assemble()
	if len(code) == 0 {
		t.Errorf("expected non-empty machine code for a two-instruction sequence")
	}
}

func TestBuilderForwardJumpResolves(t *testing.T) {
	bd, err := NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	bd.EmitCompareImm(regScratch0, 0)
	bd.EmitJumpIfZero("done")
	bd.EmitMoveImm64(regScratch0, 1)
	bd.Label("done")
	bd.EmitReturn()
	if err := bd.ResolveLabels(); err != nil {
		t.Fatalf("ResolveLabels: %v", err)
	}
	if len(bd.Assemble()) == 0 {
		t.Errorf("expected non-empty machine code")
	}
}

func TestResolveLabelsRejectsUnknownTarget(t *testing.T) {
	bd, err := NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	bd.EmitJump("nowhere")
	if err := bd.ResolveLabels(); err == nil {
		t.Errorf("expected an error resolving a jump to a label that was never placed")
	}
}
