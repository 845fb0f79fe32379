package hrid

import "testing"

func TestFormatParseRoundTrip(t *testing.T) {
	h, err := Format("task", 0, 1)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if h != "TASK_AAA001" {
		t.Fatalf("got %q, want TASK_AAA001", h)
	}
	typ, alpha, num, err := Parse(h)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if typ != "task" || alpha != 0 || num != 1 {
		t.Fatalf("got (%q,%d,%d)", typ, alpha, num)
	}
}

func TestAdvance_OverflowsNumericIntoAlpha(t *testing.T) {
	alpha, num, err := Advance(0, 998)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if alpha != 0 || num != 999 {
		t.Fatalf("got (%d,%d), want (0,999)", alpha, num)
	}
	alpha, num, err = Advance(alpha, num)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if alpha != 1 || num != 0 {
		t.Fatalf("got (%d,%d), want (1,0) after rollover", alpha, num)
	}
	h, err := Format("task", alpha, num)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if h != "TASK_AAB000" {
		t.Fatalf("got %q, want TASK_AAB000", h)
	}
}

func TestAdvance_ExhaustionIsResourceExhausted(t *testing.T) {
	maxAlpha := alphaBase*alphaBase*alphaBase - 1
	_, _, err := Advance(maxAlpha, numericMax-1)
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, bad := range []string{"", "TASK001", "TASK_aaa001", "TASK_AAA01", "TASK-AAA001"} {
		if _, _, _, err := Parse(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestToIndex_MonotoneWithinType(t *testing.T) {
	hA, _ := Format("task", 0, 1)
	hB, _ := Format("task", 0, 2)
	hC, _ := Format("task", 1, 0)

	iA, err := ToIndex(hA)
	if err != nil {
		t.Fatalf("to_index: %v", err)
	}
	iB, err := ToIndex(hB)
	if err != nil {
		t.Fatalf("to_index: %v", err)
	}
	iC, err := ToIndex(hC)
	if err != nil {
		t.Fatalf("to_index: %v", err)
	}
	if !(iA < iB && iB < iC) {
		t.Fatalf("expected strictly increasing index, got %d, %d, %d", iA, iB, iC)
	}
}

func TestToIndex_DifferentTypesDoNotCollide(t *testing.T) {
	hNote, _ := Format("note", 0, 1)
	hTask, _ := Format("task", 0, 1)
	iNote, _ := ToIndex(hNote)
	iTask, _ := ToIndex(hTask)
	if iNote == iTask {
		t.Fatalf("expected distinct cross-type indices, both got %d", iNote)
	}
}
