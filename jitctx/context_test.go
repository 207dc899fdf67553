package jitctx

import (
	"testing"

	"github.com/bbvjit/corevm/value"
)

func TestPushPopRoundTrip(t *testing.T) {
	c := New()
	c.Push(TypeOf(value.KindFixnum))
	if c.StackSize != 1 || c.SPOffset != 1 {
		t.Fatalf("after Push: StackSize=%d SPOffset=%d, want 1,1", c.StackSize, c.SPOffset)
	}
	if got := c.StackType(0); got.Kind != value.KindFixnum {
		t.Errorf("StackType(0) = %v, want fixnum", got.Kind)
	}
	c.Pop()
	if c.StackSize != 0 || c.SPOffset != 0 {
		t.Errorf("after Pop: StackSize=%d SPOffset=%d, want 0,0", c.StackSize, c.SPOffset)
	}
}

func TestSelfMappingPropagatesUpgrade(t *testing.T) {
	c := New()
	c.Push(Unknown)
	c.MapStackToSelf(0)
	c.Upgrade(0, value.KindHeap)
	if c.SelfType.Kind != value.KindHeap {
		t.Errorf("upgrading a self-mapped slot should refine SelfType, got %v", c.SelfType.Kind)
	}
	if got := c.StackType(0); got.Kind != value.KindHeap {
		t.Errorf("StackType(0) should reflect the refined self type, got %v", got.Kind)
	}
}

func TestSetLocalTypeClobbersStackMapping(t *testing.T) {
	c := New()
	c.SetLocalType(0, TypeOf(value.KindFixnum))
	c.Push(Unknown)
	c.MapStackToLocal(0, 0)
	if got := c.StackType(0); got.Kind != value.KindFixnum {
		t.Fatalf("StackType via local mapping = %v, want fixnum", got.Kind)
	}
	c.SetLocalType(0, TypeOf(value.KindHeap))
	if got := c.StackType(0); got.Kind != value.KindFixnum {
		t.Errorf("after SetLocalType, previously-mapped stack slot should freeze at prior type (fixnum), got %v", got.Kind)
	}
}

func TestClearLocalTypes(t *testing.T) {
	c := New()
	c.SelfType = TypeOf(value.KindHeap)
	c.SetLocalType(0, TypeOf(value.KindFixnum))
	c.Push(Unknown)
	c.MapStackToLocal(0, 0)
	c.ClearLocalTypes()
	if c.SelfType.Kind != value.KindUnknown {
		t.Errorf("ClearLocalTypes should reset SelfType to unknown")
	}
	if c.LocalType(0).Kind != value.KindUnknown {
		t.Errorf("ClearLocalTypes should reset local types to unknown")
	}
}

func TestEqualAndGeneralizes(t *testing.T) {
	a := New()
	a.Push(TypeOf(value.KindFixnum))
	b := New()
	b.Push(TypeOf(value.KindFixnum))
	if !a.Equal(b) {
		t.Errorf("two freshly built identical contexts should be Equal")
	}

	generic := New()
	generic.Push(Unknown)
	if !generic.Generalizes(a) {
		t.Errorf("a context with Unknown top should generalize one with Fixnum")
	}
	if a.Generalizes(generic) {
		t.Errorf("a Fixnum-typed context should not generalize an Unknown one")
	}
}
