// Package disassemble renders instructions from the memory fabric as text
// without executing them, backing the DSL's `disassemble` verb (spec.md
// §6). It shares the opcode table and operand-formatting conventions of
// the cpu package's Step/Disassemble but never touches a registers.File,
// matching the teacher's Step(pc, bank) -> (string, int) disassembler
// shape adapted to the new memory.Fabric and 65C02 opcode set.
package disassemble

import (
	"fmt"

	"github.com/soft65c02/soft65c02/cpu"
	"github.com/soft65c02/soft65c02/dslerr"
	"github.com/soft65c02/soft65c02/memory"
)

// Step disassembles the instruction at pc and returns its text rendering
// plus the byte length to advance the PC by. It reads the instruction's
// full length starting at pc (one byte past pc for two-byte instructions,
// two for three-byte ones), so callers must ensure that range is mapped.
func Step(pc uint16, f *memory.Fabric) (string, int, error) {
	opByte, err := f.Read(pc)
	if err != nil {
		return "", 0, err
	}
	mnemonic, mode, length, ok := cpu.Lookup(opByte)
	if !ok {
		return "", 0, dslerr.UnknownOpcode{Opcode: opByte, Addr: pc}
	}

	raw := []uint8{opByte}
	for i := 1; i < length; i++ {
		b, err := f.Read(pc + uint16(i))
		if err != nil {
			return "", 0, err
		}
		raw = append(raw, b)
	}

	out := cpu.StepOutcome{
		PCBefore: pc,
		PCAfter:  pc + uint16(length),
		Opcode:   opByte,
		Mnemonic: mnemonic,
		Mode:     mode,
		Bytes:    raw,
	}
	return cpu.Disassemble(out), length, nil
}

// Range disassembles count consecutive instructions starting at pc. A byte
// that cannot be decoded (or read) yields a "$ADDR: ???" line and the
// walk resumes at the next byte, so a `disassemble` verb run against a
// window that trails off into data bytes still returns count lines.
func Range(pc uint16, f *memory.Fabric, count int) []string {
	var lines []string
	addr := pc
	for i := 0; i < count; i++ {
		line, length, err := Step(addr, f)
		if err != nil {
			lines = append(lines, fmt.Sprintf("$%04X: ???", addr))
			addr++
			continue
		}
		lines = append(lines, line)
		addr += uint16(length)
	}
	return lines
}
