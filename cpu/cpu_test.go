package cpu

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/soft65c02/soft65c02/memory"
	"github.com/soft65c02/soft65c02/registers"
)

func newMachine() (*memory.Fabric, *registers.File) {
	f := memory.NewFabric()
	r := &registers.File{}
	r.Flush()
	return f, r
}

func TestImmediateLDASetsZero(t *testing.T) {
	f, r := newMachine()
	f.WriteSlice(0x0800, []byte{0xA9, 0x00})
	r.CP = 0x0800

	out, err := Step(f, r)
	if err != nil {
		t.Fatalf("Step: %v state: %s", err, spew.Sdump(r))
	}
	if r.A != 0x00 {
		t.Errorf("A = 0x%02X, want 0x00 state: %s", r.A, spew.Sdump(r))
	}
	if r.CP != 0x0802 {
		t.Errorf("CP = 0x%04X, want 0x0802", r.CP)
	}
	if !r.Flag(registers.FlagZero) {
		t.Errorf("Z flag not set, status=0x%02X", r.Status)
	}
	if r.Flag(registers.FlagNegative) {
		t.Errorf("N flag set, want clear, status=0x%02X", r.Status)
	}
	if r.CycleCount != 2 {
		t.Errorf("cycle_count = %d, want 2", r.CycleCount)
	}
	if out.Mnemonic != "LDA" {
		t.Errorf("mnemonic = %q, want LDA", out.Mnemonic)
	}
}

func TestTXSDoesNotAffectFlags(t *testing.T) {
	f, r := newMachine()
	f.WriteSlice(0x0800, []byte{0xA2, 0xFF, 0x9A}) // LDX #$FF; TXS
	r.CP = 0x0800

	if _, err := Step(f, r); err != nil {
		t.Fatalf("Step(LDX): %v", err)
	}
	if r.X != 0xFF || !r.Flag(registers.FlagNegative) || r.Flag(registers.FlagZero) {
		t.Fatalf("after LDX: X=0x%02X status=0x%02X state: %s", r.X, r.Status, spew.Sdump(r))
	}
	statusAfterLDX := r.Status

	if _, err := Step(f, r); err != nil {
		t.Fatalf("Step(TXS): %v", err)
	}
	if r.SP != 0xFF {
		t.Errorf("SP = 0x%02X, want 0xFF", r.SP)
	}
	if r.Status != statusAfterLDX {
		t.Errorf("TXS changed status: before=0x%02X after=0x%02X", statusAfterLDX, r.Status)
	}
}

func TestBranchAcrossPageCycles(t *testing.T) {
	f, r := newMachine()
	r.CP = 0x80FE
	f.WriteSlice(0x80FE, []byte{0xD0, 0x02}) // BNE +2
	r.SetFlag(registers.FlagZero, false)

	out, err := Step(f, r)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if r.CP != 0x8102 {
		t.Errorf("CP = 0x%04X, want 0x8102", r.CP)
	}
	if out.Cycles != 4 {
		t.Errorf("cycles = %d, want 4 (2 base + 1 taken + 1 page-cross)", out.Cycles)
	}
}

func TestRunInitFollowsResetVector(t *testing.T) {
	f, r := newMachine()
	f.WriteSlice(0xFFFC, []byte{0x00, 0x80})
	f.WriteSlice(0x8000, []byte{0xEA})

	lo, _ := f.Read(0xFFFC)
	hi, _ := f.Read(0xFFFD)
	r.CP = uint16(lo) | uint16(hi)<<8
	if r.CP != 0x8000 {
		t.Fatalf("reset vector CP = 0x%04X, want 0x8000", r.CP)
	}

	out, err := Step(f, r)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Mnemonic != "NOP" {
		t.Fatalf("mnemonic = %q, want NOP", out.Mnemonic)
	}
	if r.CP != 0x8001 {
		t.Errorf("CP = 0x%04X, want 0x8001", r.CP)
	}
}

func TestJSRThenRTSReturnsToInstructionAfterJSR(t *testing.T) {
	f, r := newMachine()
	r.CP = 0x0300
	f.WriteSlice(0x0300, []byte{0x20, 0x00, 0x04}) // JSR $0400
	f.WriteSlice(0x0400, []byte{0x60})             // RTS

	if _, err := Step(f, r); err != nil {
		t.Fatalf("Step(JSR): %v", err)
	}
	if r.CP != 0x0400 {
		t.Fatalf("CP after JSR = 0x%04X, want 0x0400", r.CP)
	}
	if _, err := Step(f, r); err != nil {
		t.Fatalf("Step(RTS): %v", err)
	}
	if r.CP != 0x0303 {
		t.Errorf("CP after RTS = 0x%04X, want 0x0303", r.CP)
	}
}

func TestPHAPLARoundTrip(t *testing.T) {
	f, r := newMachine()
	r.A = 0x42
	r.CP = 0x0000
	f.WriteSlice(0x0000, []byte{0x48, 0x68}) // PHA; PLA

	if _, err := Step(f, r); err != nil {
		t.Fatalf("Step(PHA): %v", err)
	}
	if _, err := Step(f, r); err != nil {
		t.Fatalf("Step(PLA): %v", err)
	}
	if r.A != 0x42 {
		t.Errorf("A = 0x%02X after PHA/PLA round-trip, want 0x42", r.A)
	}
}

func TestZeroPageIndirectYNoPageZeroWrapBug(t *testing.T) {
	f, r := newMachine()
	// LDA ($FF),Y with Y=0 should read pointer bytes from 0x00FF/0x0000,
	// the CMOS-correct wrap, not a bug that pulls both bytes from page 0.
	f.Write(0x00FF, 0x00)
	f.Write(0x0000, 0x04)
	f.Write(0x0400, 0x99)
	r.Y = 0x00
	r.CP = 0x0800
	f.WriteSlice(0x0800, []byte{0xB1, 0xFF}) // LDA ($FF),Y

	if _, err := Step(f, r); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if r.A != 0x99 {
		t.Errorf("A = 0x%02X, want 0x99 (read via 0x00FF/0x0000 pointer)", r.A)
	}
}

func TestStpHalts(t *testing.T) {
	f, r := newMachine()
	r.CP = 0x0000
	f.WriteSlice(0x0000, []byte{0xDB}) // STP

	out, err := Step(f, r)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !out.StpHalted {
		t.Errorf("StpHalted = false, want true")
	}
}

func TestUnknownOpcode(t *testing.T) {
	f, r := newMachine()
	r.CP = 0x0000
	// 0x0B has no entry in the opcode table (0xFF is BBS7).
	f.Write(0x0000, 0x0B)

	if _, err := Step(f, r); err == nil {
		t.Fatalf("Step with opcode 0x0B: got nil error, want UnknownOpcode")
	}
}

func TestRMBClearsBit(t *testing.T) {
	f, r := newMachine()
	f.Write(0x0010, 0xFF)
	r.CP = 0x0000
	f.WriteSlice(0x0000, []byte{0x07, 0x10}) // RMB0 $10

	if _, err := Step(f, r); err != nil {
		t.Fatalf("Step: %v", err)
	}
	v, _ := f.Read(0x0010)
	if v != 0xFE {
		t.Errorf("$10 = 0x%02X after RMB0, want 0xFE", v)
	}
}

func TestBBSBranchesWhenBitSet(t *testing.T) {
	f, r := newMachine()
	f.Write(0x0010, 0x01)
	r.CP = 0x0000
	f.WriteSlice(0x0000, []byte{0x8F, 0x10, 0x05}) // BBS0 $10, +5

	out, err := Step(f, r)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !out.AdvancedControlFlow {
		t.Fatalf("expected branch taken")
	}
	if r.CP != 0x0008 {
		t.Errorf("CP = 0x%04X, want 0x0008", r.CP)
	}
}
