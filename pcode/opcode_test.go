package pcode

import "testing"

func TestOpCodePredicates(t *testing.T) {
	cases := []struct {
		opc     OpCode
		call    bool
		branch  bool
		boolOut bool
	}{
		{CPUI_COPY, false, false, false},
		{CPUI_CALL, true, false, false},
		{CPUI_CALLIND, true, false, false},
		{CPUI_CBRANCH, false, true, false},
		{CPUI_BRANCHIND, false, true, false},
		{CPUI_INT_LESS, false, false, true},
		{CPUI_INT_EQUAL, false, false, true},
		{CPUI_BOOL_AND, false, false, true},
		{CPUI_INT_ADD, false, false, false},
	}
	for _, c := range cases {
		if got := c.opc.IsCall(); got != c.call {
			t.Errorf("%s: IsCall=%v, want %v", c.opc, got, c.call)
		}
		if got := c.opc.IsBranch(); got != c.branch {
			t.Errorf("%s: IsBranch=%v, want %v", c.opc, got, c.branch)
		}
		if got := c.opc.BooleanOutput(); got != c.boolOut {
			t.Errorf("%s: BooleanOutput=%v, want %v", c.opc, got, c.boolOut)
		}
	}
	if !CPUI_FLOAT_ADD.IsFloat() || CPUI_INT_ADD.IsFloat() {
		t.Error("IsFloat wrong")
	}
	if s := CPUI_INT_ADD.String(); s != "INT_ADD" {
		t.Errorf("String() = %q", s)
	}
}
