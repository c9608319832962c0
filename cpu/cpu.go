// Package cpu implements a cycle-counted, bit-exact interpreter of the
// 65C02 instruction set operating over a pluggable memory fabric. Unlike
// the teacher's sub-instruction Tick()-per-clock-cycle model (needed there
// to stay in lockstep with shared-bus peripherals like a TIA/PIA6532),
// this core executes one whole instruction per Step call and returns the
// cycles it consumed, per the step(fabric, registers) -> StepOutcome
// contract this system's DSL runner drives. The decomposition -- an
// opcode table mapping to (mnemonic, addressing mode, base cycles),
// addressing-mode resolvers, mnemonic executors and small flag-check
// helpers -- is kept from the teacher's cpu.Chip.
package cpu

import (
	"fmt"

	"github.com/soft65c02/soft65c02/dslerr"
	"github.com/soft65c02/soft65c02/memory"
	"github.com/soft65c02/soft65c02/registers"
)

// Mode is the addressing mode tag for a decoded instruction.
type Mode int

const (
	Implied Mode = iota
	Accumulator
	Immediate
	ZeroPage
	ZeroPageX
	ZeroPageY
	Absolute
	AbsoluteX
	AbsoluteY
	Indirect                // JMP (abs)
	AbsoluteIndexedIndirect // JMP (abs,X)
	IndexedIndirectX        // (zp,X)
	IndirectIndexedY        // (zp),Y
	ZeroPageIndirect        // (zp), CMOS addition
	Relative                // branches
	ZeroPageRelative        // BBRx/BBSx: zp operand + relative offset
)

// opcodeInfo is the static per-opcode row spec.md §9 calls for: a table of
// (mnemonic, addressing mode, base cycles) rather than a giant switch
// driving both decode and dispatch.
type opcodeInfo struct {
	Mnemonic string
	Mode     Mode
	Length   int // total bytes including the opcode.
	Cycles   int // base cycle count before page-cross/branch penalties.
	Bit      int // bit index for RMBx/SMBx/BBRx/BBSx; unused otherwise.
}

var opcodeTable [256]*opcodeInfo

func reg(opcode uint8, mnemonic string, mode Mode, length, cycles int) {
	if opcodeTable[opcode] != nil {
		panic(fmt.Sprintf("duplicate opcode registration: 0x%02X", opcode))
	}
	opcodeTable[opcode] = &opcodeInfo{Mnemonic: mnemonic, Mode: mode, Length: length, Cycles: cycles}
}

func init() {
	type row struct {
		op     uint8
		mn     string
		mode   Mode
		length int
		cycles int
	}
	rows := []row{
		// ADC
		{0x69, "ADC", Immediate, 2, 2}, {0x65, "ADC", ZeroPage, 2, 3}, {0x75, "ADC", ZeroPageX, 2, 4},
		{0x6D, "ADC", Absolute, 3, 4}, {0x7D, "ADC", AbsoluteX, 3, 4}, {0x79, "ADC", AbsoluteY, 3, 4},
		{0x61, "ADC", IndexedIndirectX, 2, 6}, {0x71, "ADC", IndirectIndexedY, 2, 5}, {0x72, "ADC", ZeroPageIndirect, 2, 5},
		// AND
		{0x29, "AND", Immediate, 2, 2}, {0x25, "AND", ZeroPage, 2, 3}, {0x35, "AND", ZeroPageX, 2, 4},
		{0x2D, "AND", Absolute, 3, 4}, {0x3D, "AND", AbsoluteX, 3, 4}, {0x39, "AND", AbsoluteY, 3, 4},
		{0x21, "AND", IndexedIndirectX, 2, 6}, {0x31, "AND", IndirectIndexedY, 2, 5}, {0x32, "AND", ZeroPageIndirect, 2, 5},
		// ASL
		{0x0A, "ASL", Accumulator, 1, 2}, {0x06, "ASL", ZeroPage, 2, 5}, {0x16, "ASL", ZeroPageX, 2, 6},
		{0x0E, "ASL", Absolute, 3, 6}, {0x1E, "ASL", AbsoluteX, 3, 7},
		// Branches
		{0x90, "BCC", Relative, 2, 2}, {0xB0, "BCS", Relative, 2, 2}, {0xF0, "BEQ", Relative, 2, 2},
		{0x30, "BMI", Relative, 2, 2}, {0xD0, "BNE", Relative, 2, 2}, {0x10, "BPL", Relative, 2, 2},
		{0x50, "BVC", Relative, 2, 2}, {0x70, "BVS", Relative, 2, 2}, {0x80, "BRA", Relative, 2, 3},
		// BIT
		{0x24, "BIT", ZeroPage, 2, 3}, {0x2C, "BIT", Absolute, 3, 4}, {0x89, "BIT", Immediate, 2, 2},
		{0x34, "BIT", ZeroPageX, 2, 4}, {0x3C, "BIT", AbsoluteX, 3, 4},
		// BRK
		{0x00, "BRK", Implied, 1, 7},
		// Clear/Set flags
		{0x18, "CLC", Implied, 1, 2}, {0xD8, "CLD", Implied, 1, 2}, {0x58, "CLI", Implied, 1, 2},
		{0xB8, "CLV", Implied, 1, 2}, {0x38, "SEC", Implied, 1, 2}, {0xF8, "SED", Implied, 1, 2},
		{0x78, "SEI", Implied, 1, 2},
		// CMP/CPX/CPY
		{0xC9, "CMP", Immediate, 2, 2}, {0xC5, "CMP", ZeroPage, 2, 3}, {0xD5, "CMP", ZeroPageX, 2, 4},
		{0xCD, "CMP", Absolute, 3, 4}, {0xDD, "CMP", AbsoluteX, 3, 4}, {0xD9, "CMP", AbsoluteY, 3, 4},
		{0xC1, "CMP", IndexedIndirectX, 2, 6}, {0xD1, "CMP", IndirectIndexedY, 2, 5}, {0xD2, "CMP", ZeroPageIndirect, 2, 5},
		{0xE0, "CPX", Immediate, 2, 2}, {0xE4, "CPX", ZeroPage, 2, 3}, {0xEC, "CPX", Absolute, 3, 4},
		{0xC0, "CPY", Immediate, 2, 2}, {0xC4, "CPY", ZeroPage, 2, 3}, {0xCC, "CPY", Absolute, 3, 4},
		// DEC/INC
		{0xC6, "DEC", ZeroPage, 2, 5}, {0xD6, "DEC", ZeroPageX, 2, 6}, {0xCE, "DEC", Absolute, 3, 6},
		{0xDE, "DEC", AbsoluteX, 3, 7}, {0x3A, "DEC", Accumulator, 1, 2},
		{0xE6, "INC", ZeroPage, 2, 5}, {0xF6, "INC", ZeroPageX, 2, 6}, {0xEE, "INC", Absolute, 3, 6},
		{0xFE, "INC", AbsoluteX, 3, 7}, {0x1A, "INC", Accumulator, 1, 2},
		{0xCA, "DEX", Implied, 1, 2}, {0x88, "DEY", Implied, 1, 2}, {0xE8, "INX", Implied, 1, 2}, {0xC8, "INY", Implied, 1, 2},
		// EOR
		{0x49, "EOR", Immediate, 2, 2}, {0x45, "EOR", ZeroPage, 2, 3}, {0x55, "EOR", ZeroPageX, 2, 4},
		{0x4D, "EOR", Absolute, 3, 4}, {0x5D, "EOR", AbsoluteX, 3, 4}, {0x59, "EOR", AbsoluteY, 3, 4},
		{0x41, "EOR", IndexedIndirectX, 2, 6}, {0x51, "EOR", IndirectIndexedY, 2, 5}, {0x52, "EOR", ZeroPageIndirect, 2, 5},
		// Jumps
		{0x4C, "JMP", Absolute, 3, 3}, {0x6C, "JMP", Indirect, 3, 5}, {0x7C, "JMP", AbsoluteIndexedIndirect, 3, 6},
		{0x20, "JSR", Absolute, 3, 6},
		// Loads
		{0xA9, "LDA", Immediate, 2, 2}, {0xA5, "LDA", ZeroPage, 2, 3}, {0xB5, "LDA", ZeroPageX, 2, 4},
		{0xAD, "LDA", Absolute, 3, 4}, {0xBD, "LDA", AbsoluteX, 3, 4}, {0xB9, "LDA", AbsoluteY, 3, 4},
		{0xA1, "LDA", IndexedIndirectX, 2, 6}, {0xB1, "LDA", IndirectIndexedY, 2, 5}, {0xB2, "LDA", ZeroPageIndirect, 2, 5},
		{0xA2, "LDX", Immediate, 2, 2}, {0xA6, "LDX", ZeroPage, 2, 3}, {0xB6, "LDX", ZeroPageY, 2, 4},
		{0xAE, "LDX", Absolute, 3, 4}, {0xBE, "LDX", AbsoluteY, 3, 4},
		{0xA0, "LDY", Immediate, 2, 2}, {0xA4, "LDY", ZeroPage, 2, 3}, {0xB4, "LDY", ZeroPageX, 2, 4},
		{0xAC, "LDY", Absolute, 3, 4}, {0xBC, "LDY", AbsoluteX, 3, 4},
		// LSR
		{0x4A, "LSR", Accumulator, 1, 2}, {0x46, "LSR", ZeroPage, 2, 5}, {0x56, "LSR", ZeroPageX, 2, 6},
		{0x4E, "LSR", Absolute, 3, 6}, {0x5E, "LSR", AbsoluteX, 3, 7},
		// NOP
		{0xEA, "NOP", Implied, 1, 2},
		// ORA
		{0x09, "ORA", Immediate, 2, 2}, {0x05, "ORA", ZeroPage, 2, 3}, {0x15, "ORA", ZeroPageX, 2, 4},
		{0x0D, "ORA", Absolute, 3, 4}, {0x1D, "ORA", AbsoluteX, 3, 4}, {0x19, "ORA", AbsoluteY, 3, 4},
		{0x01, "ORA", IndexedIndirectX, 2, 6}, {0x11, "ORA", IndirectIndexedY, 2, 5}, {0x12, "ORA", ZeroPageIndirect, 2, 5},
		// Stack
		{0x48, "PHA", Implied, 1, 3}, {0x08, "PHP", Implied, 1, 3}, {0xDA, "PHX", Implied, 1, 3}, {0x5A, "PHY", Implied, 1, 3},
		{0x68, "PLA", Implied, 1, 4}, {0x28, "PLP", Implied, 1, 4}, {0xFA, "PLX", Implied, 1, 4}, {0x7A, "PLY", Implied, 1, 4},
		// ROL/ROR
		{0x2A, "ROL", Accumulator, 1, 2}, {0x26, "ROL", ZeroPage, 2, 5}, {0x36, "ROL", ZeroPageX, 2, 6},
		{0x2E, "ROL", Absolute, 3, 6}, {0x3E, "ROL", AbsoluteX, 3, 7},
		{0x6A, "ROR", Accumulator, 1, 2}, {0x66, "ROR", ZeroPage, 2, 5}, {0x76, "ROR", ZeroPageX, 2, 6},
		{0x6E, "ROR", Absolute, 3, 6}, {0x7E, "ROR", AbsoluteX, 3, 7},
		// RTI/RTS
		{0x40, "RTI", Implied, 1, 6}, {0x60, "RTS", Implied, 1, 6},
		// SBC
		{0xE9, "SBC", Immediate, 2, 2}, {0xE5, "SBC", ZeroPage, 2, 3}, {0xF5, "SBC", ZeroPageX, 2, 4},
		{0xED, "SBC", Absolute, 3, 4}, {0xFD, "SBC", AbsoluteX, 3, 4}, {0xF9, "SBC", AbsoluteY, 3, 4},
		{0xE1, "SBC", IndexedIndirectX, 2, 6}, {0xF1, "SBC", IndirectIndexedY, 2, 5}, {0xF2, "SBC", ZeroPageIndirect, 2, 5},
		// Stores
		{0x85, "STA", ZeroPage, 2, 3}, {0x95, "STA", ZeroPageX, 2, 4}, {0x8D, "STA", Absolute, 3, 4},
		{0x9D, "STA", AbsoluteX, 3, 5}, {0x99, "STA", AbsoluteY, 3, 5}, {0x81, "STA", IndexedIndirectX, 2, 6},
		{0x91, "STA", IndirectIndexedY, 2, 6}, {0x92, "STA", ZeroPageIndirect, 2, 5},
		{0x86, "STX", ZeroPage, 2, 3}, {0x96, "STX", ZeroPageY, 2, 4}, {0x8E, "STX", Absolute, 3, 4},
		{0x84, "STY", ZeroPage, 2, 3}, {0x94, "STY", ZeroPageX, 2, 4}, {0x8C, "STY", Absolute, 3, 4},
		{0x64, "STZ", ZeroPage, 2, 3}, {0x74, "STZ", ZeroPageX, 2, 4}, {0x9C, "STZ", Absolute, 3, 4}, {0x9E, "STZ", AbsoluteX, 3, 5},
		// Transfers
		{0xAA, "TAX", Implied, 1, 2}, {0xA8, "TAY", Implied, 1, 2}, {0xBA, "TSX", Implied, 1, 2},
		{0x8A, "TXA", Implied, 1, 2}, {0x9A, "TXS", Implied, 1, 2}, {0x98, "TYA", Implied, 1, 2},
		// TRB/TSB
		{0x14, "TRB", ZeroPage, 2, 5}, {0x1C, "TRB", Absolute, 3, 6},
		{0x04, "TSB", ZeroPage, 2, 5}, {0x0C, "TSB", Absolute, 3, 6},
		// WAI/STP
		{0xCB, "WAI", Implied, 1, 3}, {0xDB, "STP", Implied, 1, 3},
		// A handful of reserved opcodes are defined as NOPs of varying
		// width on real WDC 65C02 silicon (spec.md §4.2).
		{0x03, "NOP", Implied, 1, 1}, {0x13, "NOP", Implied, 1, 1}, {0x23, "NOP", Implied, 1, 1}, {0x33, "NOP", Implied, 1, 1},
		{0x43, "NOP", Implied, 1, 1}, {0x53, "NOP", Implied, 1, 1}, {0x63, "NOP", Implied, 1, 1}, {0x73, "NOP", Implied, 1, 1},
		{0x83, "NOP", Implied, 1, 1}, {0x93, "NOP", Implied, 1, 1}, {0xA3, "NOP", Implied, 1, 1}, {0xB3, "NOP", Implied, 1, 1},
		{0xC3, "NOP", Implied, 1, 1}, {0xD3, "NOP", Implied, 1, 1}, {0xE3, "NOP", Implied, 1, 1}, {0xF3, "NOP", Implied, 1, 1},
		{0x02, "NOP", Immediate, 2, 2}, {0x22, "NOP", Immediate, 2, 2}, {0x42, "NOP", Immediate, 2, 2}, {0x62, "NOP", Immediate, 2, 2},
		{0x82, "NOP", Immediate, 2, 2}, {0xC2, "NOP", Immediate, 2, 2}, {0xE2, "NOP", Immediate, 2, 2},
		{0x44, "NOP", ZeroPage, 2, 3},
		{0x54, "NOP", ZeroPageX, 2, 4}, {0xD4, "NOP", ZeroPageX, 2, 4}, {0xF4, "NOP", ZeroPageX, 2, 4},
		{0x5C, "NOP", Absolute, 3, 8}, {0xDC, "NOP", Absolute, 3, 4}, {0xFC, "NOP", Absolute, 3, 4},
	}
	for _, r := range rows {
		reg(r.op, r.mn, r.mode, r.length, r.cycles)
	}
	// Rockwell bit instructions: RMBx/SMBx clear/set bit x of a zero page
	// location; BBRx/BBSx branch on bit x of a zero page location. Real
	// silicon defines all 32 of these uniformly, which is exactly the
	// "BBRx/RMBx family" spec.md §4.2 calls out as legitimately defined.
	for n := 0; n < 8; n++ {
		rmb := uint8(0x07 + n*0x10)
		smb := uint8(0x87 + n*0x10)
		bbr := uint8(0x0F + n*0x10)
		bbs := uint8(0x8F + n*0x10)
		opcodeTable[rmb] = &opcodeInfo{Mnemonic: "RMB", Mode: ZeroPage, Length: 2, Cycles: 5, Bit: n}
		opcodeTable[smb] = &opcodeInfo{Mnemonic: "SMB", Mode: ZeroPage, Length: 2, Cycles: 5, Bit: n}
		opcodeTable[bbr] = &opcodeInfo{Mnemonic: "BBR", Mode: ZeroPageRelative, Length: 3, Cycles: 5, Bit: n}
		opcodeTable[bbs] = &opcodeInfo{Mnemonic: "BBS", Mode: ZeroPageRelative, Length: 3, Cycles: 5, Bit: n}
	}
}

// Lookup returns the static decode row for an opcode byte, or false if
// the slot is genuinely undefined.
func Lookup(opcode uint8) (Mnemonic string, Mode Mode, Length int, ok bool) {
	info := opcodeTable[opcode]
	if info == nil {
		return "", 0, 0, false
	}
	return info.Mnemonic, info.Mode, info.Length, true
}

// StepOutcome reports what a single Step call did, per spec.md §4.2: the
// disassembly of the executed instruction, its consumed cycle count (which
// has already been added to registers.CycleCount by the time Step
// returns), and flags the run loop's halt guards need.
type StepOutcome struct {
	PCBefore    uint16
	PCAfter     uint16
	Opcode      uint8
	Mnemonic    string
	Mode        Mode
	Bytes       []uint8
	Cycles      int
	Disassembly string
	// StpHalted is true if the executed instruction was STP (or WAI,
	// which this core treats identically since it never services
	// interrupts and so could never resume -- see SPEC_FULL.md §5.2).
	StpHalted bool
	// AdvancedControlFlow is true for branches taken, jumps, JSR/RTS/
	// RTI/BRK -- anything that legitimately sets PC to something other
	// than PCBefore+len. The run loop's no-progress guard does not consult
	// it: the guard fires whenever PC didn't move, so a JMP-to-self halts.
	AdvancedControlFlow bool
}

// operand is what an addressing-mode resolver hands back to an executor:
// an address (valid for anything but Immediate/Implied/Accumulator/
// Relative) and/or an immediate value, plus whether resolving it crossed
// a page boundary (relevant only to read-type instructions in indexed
// modes, per spec.md §4.2).
type operand struct {
	addr        uint16
	value       uint8
	hasAddr     bool
	pageCrossed bool
}

// resolve computes the operand for every addressing mode except Relative/
// ZeroPageRelative, which Step's branch handling computes directly since
// it needs the instruction's own PC for the target calculation.
func resolve(f *memory.Fabric, r *registers.File, mode Mode, b1, b2 uint8) (operand, error) {
	switch mode {
	case Implied, Accumulator:
		return operand{}, nil
	case Immediate:
		return operand{value: b1}, nil
	case ZeroPage:
		return operand{addr: uint16(b1), hasAddr: true}, nil
	case ZeroPageX:
		return operand{addr: uint16(uint8(b1 + r.X)), hasAddr: true}, nil
	case ZeroPageY:
		return operand{addr: uint16(uint8(b1 + r.Y)), hasAddr: true}, nil
	case Absolute:
		return operand{addr: uint16(b1) | uint16(b2)<<8, hasAddr: true}, nil
	case AbsoluteX:
		return indexedAbsolute(b1, b2, r.X), nil
	case AbsoluteY:
		return indexedAbsolute(b1, b2, r.Y), nil
	case Indirect:
		ptr := uint16(b1) | uint16(b2)<<8
		lo, err := f.Read(ptr)
		if err != nil {
			return operand{}, err
		}
		hi, err := f.Read(ptr + 1)
		if err != nil {
			return operand{}, err
		}
		return operand{addr: uint16(lo) | uint16(hi)<<8, hasAddr: true}, nil
	case AbsoluteIndexedIndirect:
		ptr := (uint16(b1) | uint16(b2)<<8) + uint16(r.X)
		lo, err := f.Read(ptr)
		if err != nil {
			return operand{}, err
		}
		hi, err := f.Read(ptr + 1)
		if err != nil {
			return operand{}, err
		}
		return operand{addr: uint16(lo) | uint16(hi)<<8, hasAddr: true}, nil
	case IndexedIndirectX:
		zp := uint8(b1 + r.X)
		lo, err := f.Read(uint16(zp))
		if err != nil {
			return operand{}, err
		}
		hi, err := f.Read(uint16(uint8(zp + 1)))
		if err != nil {
			return operand{}, err
		}
		return operand{addr: uint16(lo) | uint16(hi)<<8, hasAddr: true}, nil
	case IndirectIndexedY:
		lo, err := f.Read(uint16(b1))
		if err != nil {
			return operand{}, err
		}
		hi, err := f.Read(uint16(uint8(b1 + 1)))
		if err != nil {
			return operand{}, err
		}
		base := uint16(lo) | uint16(hi)<<8
		eff := base + uint16(r.Y)
		return operand{addr: eff, hasAddr: true, pageCrossed: (base & 0xFF00) != (eff & 0xFF00)}, nil
	case ZeroPageIndirect:
		lo, err := f.Read(uint16(b1))
		if err != nil {
			return operand{}, err
		}
		hi, err := f.Read(uint16(uint8(b1 + 1)))
		if err != nil {
			return operand{}, err
		}
		return operand{addr: uint16(lo) | uint16(hi)<<8, hasAddr: true}, nil
	}
	return operand{}, dslerr.UnknownOpcode{}
}

func indexedAbsolute(b1, b2, idx uint8) operand {
	base := uint16(b1) | uint16(b2)<<8
	eff := base + uint16(idx)
	return operand{addr: eff, hasAddr: true, pageCrossed: (base & 0xFF00) != (eff & 0xFF00)}
}

// readTypeMnemonics take an extra page-cross cycle on indexed modes;
// store-type and RMW-type instructions never do (the 6502/65C02 family
// always takes the RMW-worst-case timing on those regardless of crossing).
var readTypeMnemonics = map[string]bool{
	"ADC": true, "AND": true, "CMP": true, "CPX": true, "CPY": true, "EOR": true,
	"LDA": true, "LDX": true, "LDY": true, "ORA": true, "SBC": true, "BIT": true,
}

// Step decodes and fully executes one instruction at registers.CP,
// advancing CP and CycleCount, and returns a StepOutcome describing what
// ran. Implements the cpu engine's public contract from spec.md §4.2.
func Step(f *memory.Fabric, r *registers.File) (StepOutcome, error) {
	pc := r.CP
	opByte, err := f.Read(pc)
	if err != nil {
		return StepOutcome{}, err
	}
	info := opcodeTable[opByte]
	if info == nil {
		return StepOutcome{}, dslerr.UnknownOpcode{Opcode: opByte, Addr: pc}
	}

	var b1, b2 uint8
	raw := []uint8{opByte}
	if info.Length >= 2 {
		b1, err = f.Read(pc + 1)
		if err != nil {
			return StepOutcome{}, err
		}
		raw = append(raw, b1)
	}
	if info.Length >= 3 {
		b2, err = f.Read(pc + 2)
		if err != nil {
			return StepOutcome{}, err
		}
		raw = append(raw, b2)
	}

	out := StepOutcome{PCBefore: pc, Opcode: opByte, Mnemonic: info.Mnemonic, Mode: info.Mode, Bytes: raw}
	cycles := info.Cycles

	e := &executor{f: f, r: r, info: info, b1: b1, b2: b2, pc: pc}
	nextPC, extraCycles, advancedFlow, err := e.run()
	if err != nil {
		return StepOutcome{}, err
	}
	cycles += extraCycles
	r.CP = nextPC
	r.AddCycles(uint64(cycles))

	out.PCAfter = nextPC
	out.Cycles = cycles
	out.StpHalted = info.Mnemonic == "STP" || info.Mnemonic == "WAI"
	out.AdvancedControlFlow = advancedFlow
	out.Disassembly = Disassemble(out)
	return out, nil
}

// executor threads the state one Step call needs through the mnemonic
// implementations. Splitting it out of Step mirrors the teacher's
// convention of small curried per-mnemonic methods, just recast for a
// single-call-per-instruction model instead of a per-tick one.
type executor struct {
	f    *memory.Fabric
	r    *registers.File
	info *opcodeInfo
	b1   uint8
	b2   uint8
	pc   uint16
}

// run executes the instruction and returns the new PC, any cycle penalty
// beyond the table's base cycles, and whether control flow was legitimately
// redirected (branch taken, jump, call, return).
func (e *executor) run() (nextPC uint16, extraCycles int, advancedFlow bool, err error) {
	r, f := e.r, e.f
	mn := e.info.Mnemonic
	fallthroughPC := e.pc + uint16(e.info.Length)

	switch mn {
	case "BCC", "BCS", "BEQ", "BMI", "BNE", "BPL", "BVC", "BVS", "BRA":
		taken := mn == "BRA"
		switch mn {
		case "BCC":
			taken = !r.Flag(registers.FlagCarry)
		case "BCS":
			taken = r.Flag(registers.FlagCarry)
		case "BEQ":
			taken = r.Flag(registers.FlagZero)
		case "BMI":
			taken = r.Flag(registers.FlagNegative)
		case "BNE":
			taken = !r.Flag(registers.FlagZero)
		case "BPL":
			taken = !r.Flag(registers.FlagNegative)
		case "BVC":
			taken = !r.Flag(registers.FlagOverflow)
		case "BVS":
			taken = r.Flag(registers.FlagOverflow)
		}
		if !taken {
			return fallthroughPC, 0, false, nil
		}
		target := e.pc + 2 + uint16(int16(int8(e.b1)))
		extra := 1
		if (e.pc & 0xFF00) != (target & 0xFF00) {
			extra++
		}
		return target, extra, true, nil

	case "BBR", "BBS":
		zp := uint16(e.b1)
		v, err := f.Read(zp)
		if err != nil {
			return 0, 0, false, err
		}
		bit := uint8(1) << uint(e.info.Bit)
		var taken bool
		if mn == "BBR" {
			taken = v&bit == 0
		} else {
			taken = v&bit != 0
		}
		if !taken {
			return fallthroughPC, 0, false, nil
		}
		target := e.pc + 3 + uint16(int16(int8(e.b2)))
		extra := 1
		if (e.pc & 0xFF00) != (target & 0xFF00) {
			extra++
		}
		return target, extra, true, nil

	case "RMB", "SMB":
		zp := uint16(e.b1)
		v, err := f.Read(zp)
		if err != nil {
			return 0, 0, false, err
		}
		bit := uint8(1) << uint(e.info.Bit)
		if mn == "RMB" {
			v &^= bit
		} else {
			v |= bit
		}
		if err := f.Write(zp, v); err != nil {
			return 0, 0, false, err
		}
		return fallthroughPC, 0, false, nil

	case "JMP":
		op, err := resolve(f, r, e.info.Mode, e.b1, e.b2)
		if err != nil {
			return 0, 0, false, err
		}
		return op.addr, 0, true, nil

	case "JSR":
		ret := e.pc + 2
		pushStack(f, r, uint8(ret>>8))
		pushStack(f, r, uint8(ret&0xFF))
		target := uint16(e.b1) | uint16(e.b2)<<8
		return target, 0, true, nil

	case "RTS":
		lo := popStack(f, r)
		hi := popStack(f, r)
		return (uint16(hi)<<8 | uint16(lo)) + 1, 0, true, nil

	case "BRK":
		ret := e.pc + 2
		pushStack(f, r, uint8(ret>>8))
		pushStack(f, r, uint8(ret&0xFF))
		pushStack(f, r, r.Status|registers.FlagS1|registers.FlagBreak)
		r.SetFlag(registers.FlagInterrupt, true)
		lo, err := f.Read(0xFFFE)
		if err != nil {
			return 0, 0, false, err
		}
		hi, err := f.Read(0xFFFF)
		if err != nil {
			return 0, 0, false, err
		}
		return uint16(hi)<<8 | uint16(lo), 0, true, nil

	case "RTI":
		p := popStack(f, r)
		r.Status = (p | registers.FlagS1) &^ registers.FlagBreak
		lo := popStack(f, r)
		hi := popStack(f, r)
		return uint16(hi)<<8 | uint16(lo), 0, true, nil

	case "PHA":
		pushStack(f, r, r.A)
		return fallthroughPC, 0, false, nil
	case "PHX":
		pushStack(f, r, r.X)
		return fallthroughPC, 0, false, nil
	case "PHY":
		pushStack(f, r, r.Y)
		return fallthroughPC, 0, false, nil
	case "PHP":
		pushStack(f, r, r.Status|registers.FlagS1|registers.FlagBreak)
		return fallthroughPC, 0, false, nil
	case "PLA":
		r.A = popStack(f, r)
		setZN(r, r.A)
		return fallthroughPC, 0, false, nil
	case "PLX":
		r.X = popStack(f, r)
		setZN(r, r.X)
		return fallthroughPC, 0, false, nil
	case "PLY":
		r.Y = popStack(f, r)
		setZN(r, r.Y)
		return fallthroughPC, 0, false, nil
	case "PLP":
		r.Status = (popStack(f, r) | registers.FlagS1) &^ registers.FlagBreak
		return fallthroughPC, 0, false, nil

	case "CLC":
		r.SetFlag(registers.FlagCarry, false)
		return fallthroughPC, 0, false, nil
	case "SEC":
		r.SetFlag(registers.FlagCarry, true)
		return fallthroughPC, 0, false, nil
	case "CLI":
		r.SetFlag(registers.FlagInterrupt, false)
		return fallthroughPC, 0, false, nil
	case "SEI":
		r.SetFlag(registers.FlagInterrupt, true)
		return fallthroughPC, 0, false, nil
	case "CLD":
		r.SetFlag(registers.FlagDecimal, false)
		return fallthroughPC, 0, false, nil
	case "SED":
		r.SetFlag(registers.FlagDecimal, true)
		return fallthroughPC, 0, false, nil
	case "CLV":
		r.SetFlag(registers.FlagOverflow, false)
		return fallthroughPC, 0, false, nil

	case "TAX":
		r.X = r.A
		setZN(r, r.X)
		return fallthroughPC, 0, false, nil
	case "TAY":
		r.Y = r.A
		setZN(r, r.Y)
		return fallthroughPC, 0, false, nil
	case "TXA":
		r.A = r.X
		setZN(r, r.A)
		return fallthroughPC, 0, false, nil
	case "TYA":
		r.A = r.Y
		setZN(r, r.A)
		return fallthroughPC, 0, false, nil
	case "TSX":
		r.X = r.SP
		setZN(r, r.X)
		return fallthroughPC, 0, false, nil
	case "TXS":
		r.SP = r.X
		return fallthroughPC, 0, false, nil

	case "NOP", "WAI", "STP":
		return fallthroughPC, 0, false, nil
	}

	// Everything below needs the resolved operand.
	op, err := resolve(f, r, e.info.Mode, e.b1, e.b2)
	if err != nil {
		return 0, 0, false, err
	}
	pageCycle := 0
	if op.pageCrossed && readTypeMnemonics[mn] {
		pageCycle = 1
	}

	switch mn {
	case "LDA":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		r.A = v
		setZN(r, r.A)
	case "LDX":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		r.X = v
		setZN(r, r.X)
	case "LDY":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		r.Y = v
		setZN(r, r.Y)
	case "STA":
		if err := f.Write(op.addr, r.A); err != nil {
			return 0, 0, false, err
		}
		pageCycle = 0
	case "STX":
		if err := f.Write(op.addr, r.X); err != nil {
			return 0, 0, false, err
		}
	case "STY":
		if err := f.Write(op.addr, r.Y); err != nil {
			return 0, 0, false, err
		}
	case "STZ":
		if err := f.Write(op.addr, 0); err != nil {
			return 0, 0, false, err
		}
	case "ADC":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		if r.Flag(registers.FlagDecimal) {
			pageCycle++
		}
		adc(r, v)
	case "SBC":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		if r.Flag(registers.FlagDecimal) {
			pageCycle++
		}
		sbc(r, v)
	case "AND":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		r.A &= v
		setZN(r, r.A)
	case "ORA":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		r.A |= v
		setZN(r, r.A)
	case "EOR":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		r.A ^= v
		setZN(r, r.A)
	case "BIT":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		r.SetFlag(registers.FlagZero, r.A&v == 0)
		if e.info.Mode != Immediate {
			r.SetFlag(registers.FlagNegative, v&0x80 != 0)
			r.SetFlag(registers.FlagOverflow, v&0x40 != 0)
		}
	case "CMP":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		compare(r, r.A, v)
	case "CPX":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		compare(r, r.X, v)
	case "CPY":
		v, err := e.loadValue(op)
		if err != nil {
			return 0, 0, false, err
		}
		compare(r, r.Y, v)
	case "ASL":
		if e.info.Mode == Accumulator {
			r.SetFlag(registers.FlagCarry, r.A&0x80 != 0)
			r.A <<= 1
			setZN(r, r.A)
		} else {
			v, err := f.Read(op.addr)
			if err != nil {
				return 0, 0, false, err
			}
			r.SetFlag(registers.FlagCarry, v&0x80 != 0)
			nv := v << 1
			if err := f.Write(op.addr, nv); err != nil {
				return 0, 0, false, err
			}
			setZN(r, nv)
		}
	case "LSR":
		if e.info.Mode == Accumulator {
			r.SetFlag(registers.FlagCarry, r.A&0x01 != 0)
			r.A >>= 1
			setZN(r, r.A)
		} else {
			v, err := f.Read(op.addr)
			if err != nil {
				return 0, 0, false, err
			}
			r.SetFlag(registers.FlagCarry, v&0x01 != 0)
			nv := v >> 1
			if err := f.Write(op.addr, nv); err != nil {
				return 0, 0, false, err
			}
			setZN(r, nv)
		}
	case "ROL":
		carryIn := uint8(0)
		if r.Flag(registers.FlagCarry) {
			carryIn = 1
		}
		if e.info.Mode == Accumulator {
			r.SetFlag(registers.FlagCarry, r.A&0x80 != 0)
			r.A = (r.A << 1) | carryIn
			setZN(r, r.A)
		} else {
			v, err := f.Read(op.addr)
			if err != nil {
				return 0, 0, false, err
			}
			r.SetFlag(registers.FlagCarry, v&0x80 != 0)
			nv := (v << 1) | carryIn
			if err := f.Write(op.addr, nv); err != nil {
				return 0, 0, false, err
			}
			setZN(r, nv)
		}
	case "ROR":
		carryIn := uint8(0)
		if r.Flag(registers.FlagCarry) {
			carryIn = 0x80
		}
		if e.info.Mode == Accumulator {
			r.SetFlag(registers.FlagCarry, r.A&0x01 != 0)
			r.A = (r.A >> 1) | carryIn
			setZN(r, r.A)
		} else {
			v, err := f.Read(op.addr)
			if err != nil {
				return 0, 0, false, err
			}
			r.SetFlag(registers.FlagCarry, v&0x01 != 0)
			nv := (v >> 1) | carryIn
			if err := f.Write(op.addr, nv); err != nil {
				return 0, 0, false, err
			}
			setZN(r, nv)
		}
	case "INC":
		if e.info.Mode == Accumulator {
			r.A++
			setZN(r, r.A)
		} else {
			v, err := f.Read(op.addr)
			if err != nil {
				return 0, 0, false, err
			}
			v++
			if err := f.Write(op.addr, v); err != nil {
				return 0, 0, false, err
			}
			setZN(r, v)
		}
	case "DEC":
		if e.info.Mode == Accumulator {
			r.A--
			setZN(r, r.A)
		} else {
			v, err := f.Read(op.addr)
			if err != nil {
				return 0, 0, false, err
			}
			v--
			if err := f.Write(op.addr, v); err != nil {
				return 0, 0, false, err
			}
			setZN(r, v)
		}
	case "INX":
		r.X++
		setZN(r, r.X)
	case "INY":
		r.Y++
		setZN(r, r.Y)
	case "DEX":
		r.X--
		setZN(r, r.X)
	case "DEY":
		r.Y--
		setZN(r, r.Y)
	case "TRB":
		v, err := f.Read(op.addr)
		if err != nil {
			return 0, 0, false, err
		}
		r.SetFlag(registers.FlagZero, v&r.A == 0)
		if err := f.Write(op.addr, v&^r.A); err != nil {
			return 0, 0, false, err
		}
	case "TSB":
		v, err := f.Read(op.addr)
		if err != nil {
			return 0, 0, false, err
		}
		r.SetFlag(registers.FlagZero, v&r.A == 0)
		if err := f.Write(op.addr, v|r.A); err != nil {
			return 0, 0, false, err
		}
	default:
		return 0, 0, false, dslerr.UnknownOpcode{Opcode: e.info2Opcode(), Addr: e.pc}
	}

	return fallthroughPC, pageCycle, false, nil
}

// info2Opcode recovers the opcode byte for an error message; only reached
// on an internal inconsistency (a table row whose mnemonic has no case
// above), which a passing test suite should make unreachable.
func (e *executor) info2Opcode() uint8 {
	for op, info := range opcodeTable {
		if info == e.info {
			return uint8(op)
		}
	}
	return 0
}

// loadValue returns the 8-bit value an instruction operates on: the
// immediate byte for Immediate mode, or a fabric read at the resolved
// address otherwise.
func (e *executor) loadValue(op operand) (uint8, error) {
	if e.info.Mode == Immediate {
		return op.value, nil
	}
	return e.f.Read(op.addr)
}

func pushStack(f *memory.Fabric, r *registers.File, v uint8) {
	f.Write(0x0100+uint16(r.SP), v)
	r.SP--
}

func popStack(f *memory.Fabric, r *registers.File) uint8 {
	r.SP++
	v, _ := f.Read(0x0100 + uint16(r.SP))
	return v
}

func setZN(r *registers.File, v uint8) {
	r.SetFlag(registers.FlagZero, v == 0)
	r.SetFlag(registers.FlagNegative, v&0x80 != 0)
}

// compare implements CMP/CPX/CPY: reg-operand in 8 bits without storing,
// per spec.md §4.2.
func compare(r *registers.File, reg, val uint8) {
	result := reg - val
	r.SetFlag(registers.FlagCarry, reg >= val)
	r.SetFlag(registers.FlagZero, reg == val)
	r.SetFlag(registers.FlagNegative, result&0x80 != 0)
}

// adc implements ADC in binary mode; decimal mode adjusts the result and
// takes one extra cycle (spec.md §4.2) but fidelity beyond that is not a
// correctness goal (spec.md §1 Non-goals).
func adc(r *registers.File, val uint8) {
	carry := uint16(0)
	if r.Flag(registers.FlagCarry) {
		carry = 1
	}
	if r.Flag(registers.FlagDecimal) {
		adcDecimal(r, val, uint8(carry))
		return
	}
	sum := uint16(r.A) + uint16(val) + carry
	result := uint8(sum)
	r.SetFlag(registers.FlagOverflow, (r.A^result)&(val^result)&0x80 != 0)
	r.SetFlag(registers.FlagCarry, sum >= 0x100)
	r.A = result
	setZN(r, r.A)
}

// adcDecimal approximates BCD addition well enough for cycle/flag
// accounting; spec.md §1 excludes decimal-mode fidelity beyond that as a
// correctness goal.
func adcDecimal(r *registers.File, val, carry uint8) {
	lo := (r.A & 0x0F) + (val & 0x0F) + carry
	if lo >= 0x0A {
		lo = ((lo + 0x06) & 0x0F) + 0x10
	}
	sum := uint16(r.A&0xF0) + uint16(val&0xF0) + uint16(lo)
	if sum >= 0xA0 {
		sum += 0x60
	}
	result := uint8(sum & 0xFF)
	binSum := r.A + val + carry
	r.SetFlag(registers.FlagOverflow, (r.A^binSum)&(val^binSum)&0x80 != 0)
	r.SetFlag(registers.FlagCarry, sum >= 0x100)
	r.SetFlag(registers.FlagZero, binSum == 0)
	r.SetFlag(registers.FlagNegative, result&0x80 != 0)
	r.A = result
}

// sbc implements SBC by ones-complementing the operand and reusing adc's
// binary path, matching the teacher's iSBC; decimal mode gets its own
// nibble-correction pass.
func sbc(r *registers.File, val uint8) {
	if r.Flag(registers.FlagDecimal) {
		sbcDecimal(r, val)
		return
	}
	adc(r, ^val)
}

// Disassemble renders a single StepOutcome as one line of assembly text,
// in the "$ADDR: MNEMONIC OPERAND" style the DSL's `disassemble` verb and
// run-loop tracing both print (spec.md §6).
func Disassemble(out StepOutcome) string {
	operandText := formatOperand(out)
	if operandText == "" {
		return fmt.Sprintf("$%04X: %s", out.PCBefore, out.Mnemonic)
	}
	return fmt.Sprintf("$%04X: %s %s", out.PCBefore, out.Mnemonic, operandText)
}

func formatOperand(out StepOutcome) string {
	b := out.Bytes
	switch out.Mode {
	case Implied:
		return ""
	case Accumulator:
		return "A"
	case Immediate:
		return fmt.Sprintf("#$%02X", b[1])
	case ZeroPage:
		return fmt.Sprintf("$%02X", b[1])
	case ZeroPageX:
		return fmt.Sprintf("$%02X,X", b[1])
	case ZeroPageY:
		return fmt.Sprintf("$%02X,Y", b[1])
	case ZeroPageIndirect:
		return fmt.Sprintf("($%02X)", b[1])
	case Absolute:
		return fmt.Sprintf("$%02X%02X", b[2], b[1])
	case AbsoluteX:
		return fmt.Sprintf("$%02X%02X,X", b[2], b[1])
	case AbsoluteY:
		return fmt.Sprintf("$%02X%02X,Y", b[2], b[1])
	case Indirect:
		return fmt.Sprintf("($%02X%02X)", b[2], b[1])
	case AbsoluteIndexedIndirect:
		return fmt.Sprintf("($%02X%02X,X)", b[2], b[1])
	case IndexedIndirectX:
		return fmt.Sprintf("($%02X,X)", b[1])
	case IndirectIndexedY:
		return fmt.Sprintf("($%02X),Y", b[1])
	case Relative:
		target := out.PCBefore + 2 + uint16(int16(int8(b[1])))
		return fmt.Sprintf("$%04X", target)
	case ZeroPageRelative:
		target := out.PCBefore + 3 + uint16(int16(int8(b[2])))
		return fmt.Sprintf("$%02X,$%04X", b[1], target)
	}
	return ""
}

func sbcDecimal(r *registers.File, val uint8) {
	carry := uint8(0)
	if r.Flag(registers.FlagCarry) {
		carry = 1
	}
	lo := int8(r.A&0x0F) - int8(val&0x0F) + int8(carry) - 1
	if lo < 0 {
		lo = ((lo - 0x06) & 0x0F) - 0x10
	}
	sum := int16(r.A&0xF0) - int16(val&0xF0) + int16(lo)
	if sum < 0 {
		sum -= 0x60
	}
	result := uint8(sum & 0xFF)
	b := r.A + ^val + carry
	r.SetFlag(registers.FlagOverflow, (r.A^(^val))&(^val^b)&0x80 != 0)
	r.SetFlag(registers.FlagCarry, uint16(r.A)+uint16(^val)+uint16(carry) >= 0x100)
	r.SetFlag(registers.FlagZero, b == 0)
	r.SetFlag(registers.FlagNegative, b&0x80 != 0)
	r.A = result
}
