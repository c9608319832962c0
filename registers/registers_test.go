package registers

import "testing"

func TestFlushSetsPowerOnConvention(t *testing.T) {
	f := &File{A: 0xFF, X: 0xFF, Y: 0xFF, SP: 0x00, Status: 0x00, CP: 0xBEEF, CycleCount: 99}
	f.Flush()

	if f.A != 0 || f.X != 0 || f.Y != 0 {
		t.Errorf("A/X/Y = %02X/%02X/%02X, want all zero", f.A, f.X, f.Y)
	}
	if f.SP != 0xFF {
		t.Errorf("SP = 0x%02X, want 0xFF", f.SP)
	}
	if f.CP != 0x0000 {
		t.Errorf("CP = 0x%04X, want 0x0000", f.CP)
	}
	if f.CycleCount != 0 {
		t.Errorf("CycleCount = %d, want 0", f.CycleCount)
	}
	if !f.Flag(FlagS1) {
		t.Errorf("status bit 5 not set after Flush")
	}
}

func TestStatusBitFiveAlwaysReadsSet(t *testing.T) {
	f := &File{}
	f.Flush()
	if err := f.Set(Status, 0x00); err != nil {
		t.Fatalf("Set(Status, 0): %v", err)
	}
	if f.Value(Status)&uint64(FlagS1) == 0 {
		t.Errorf("status bit 5 clear after explicit Set(Status, 0)")
	}
}

func TestSetWidthEnforced(t *testing.T) {
	f := &File{}
	f.Flush()
	if err := f.Set(A, 256); err == nil {
		t.Fatalf("Set(A, 256): got nil error, want WidthError")
	}
	if err := f.Set(CP, 0x10000); err == nil {
		t.Fatalf("Set(CP, 0x10000): got nil error, want WidthError")
	}
	if err := f.Set(CP, 0xFFFF); err != nil {
		t.Errorf("Set(CP, 0xFFFF): %v", err)
	}
}

func TestAddCyclesMonotonic(t *testing.T) {
	f := &File{}
	f.Flush()
	f.AddCycles(2)
	f.AddCycles(3)
	if f.CycleCount != 5 {
		t.Errorf("CycleCount = %d, want 5", f.CycleCount)
	}
}

func TestSetFlagAndFlag(t *testing.T) {
	f := &File{}
	f.Flush()
	f.SetFlag(FlagCarry, true)
	if !f.Flag(FlagCarry) {
		t.Errorf("FlagCarry not set after SetFlag(true)")
	}
	f.SetFlag(FlagCarry, false)
	if f.Flag(FlagCarry) {
		t.Errorf("FlagCarry still set after SetFlag(false)")
	}
}
