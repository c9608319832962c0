// Package registers implements the 65C02 register file: the accumulator,
// index registers, stack pointer, status flags, command pointer (program
// counter) and the monotonic cycle counter the DSL runner exposes as if it
// were just another register.
package registers

import "fmt"

// Flag bit positions within the status register, MSB to LSB: N V 1 B D I Z C.
// Named and valued the same way the teacher's cpu package does (P_NEGATIVE,
// P_OVERFLOW, ...) since that convention reads naturally against datasheets.
const (
	FlagNegative  = uint8(0x80)
	FlagOverflow  = uint8(0x40)
	FlagS1        = uint8(0x20) // Always reads as 1, per spec invariant.
	FlagBreak     = uint8(0x10)
	FlagDecimal   = uint8(0x08)
	FlagInterrupt = uint8(0x04)
	FlagZero      = uint8(0x02)
	FlagCarry     = uint8(0x01)
)

// Field identifies a register for Set/value-width enforcement.
type Field int

const (
	A Field = iota
	X
	Y
	SP
	CP
	Status
	CycleCount
)

// String renders the canonical name used by the DSL grammar.
func (f Field) String() string {
	switch f {
	case A:
		return "A"
	case X:
		return "X"
	case Y:
		return "Y"
	case SP:
		return "SP"
	case CP:
		return "CP"
	case Status:
		return "S"
	case CycleCount:
		return "cycle_count"
	default:
		return "?"
	}
}

// WidthError is returned by Set when a value doesn't fit the field's width.
type WidthError struct {
	Field Field
	Value uint64
}

func (e WidthError) Error() string {
	return fmt.Sprintf("value 0x%X does not fit in register %s", e.Value, e.Field)
}

// File holds the full 65C02 register set plus the cycle counter. Zero value
// is not a valid power-on state; call Flush for that.
type File struct {
	A          uint8
	X          uint8
	Y          uint8
	SP         uint8
	CP         uint16
	Status     uint8
	CycleCount uint64
}

// Flush resets the register file to the deterministic "random-on-boot"
// convention spec.md §3/§4.4 documents: A=X=Y=0, SP=0xFF, status=nv-Bdizc
// (0b00110000), CP=0x0000. Unlike real silicon (and unlike the teacher's
// PowerOn, which randomizes registers for fidelity to hardware) this core
// is deterministic by design so regression scripts are reproducible.
func (f *File) Flush() {
	f.A = 0
	f.X = 0
	f.Y = 0
	f.SP = 0xFF
	f.Status = FlagS1 | FlagBreak
	f.CP = 0x0000
	f.CycleCount = 0
}

// SetFlag sets or clears a single status bit, always forcing FlagS1 on.
func (f *File) SetFlag(bit uint8, set bool) {
	if set {
		f.Status |= bit
	} else {
		f.Status &^= bit
	}
	f.Status |= FlagS1
}

// Flag reports whether a status bit is set. FlagS1 always reports true.
func (f *File) Flag(bit uint8) bool {
	return (f.Status|FlagS1)&bit != 0
}

// Set assigns a named field, enforcing its natural width. 8-bit fields
// reject values >= 256; CP rejects values >= 65536 (a no-op for a uint16
// caller but kept for callers constructing from a wider DSL numeric type).
func (f *File) Set(field Field, val uint64) error {
	switch field {
	case A:
		if val >= 256 {
			return WidthError{field, val}
		}
		f.A = uint8(val)
	case X:
		if val >= 256 {
			return WidthError{field, val}
		}
		f.X = uint8(val)
	case Y:
		if val >= 256 {
			return WidthError{field, val}
		}
		f.Y = uint8(val)
	case SP:
		if val >= 256 {
			return WidthError{field, val}
		}
		f.SP = uint8(val)
	case Status:
		if val >= 256 {
			return WidthError{field, val}
		}
		f.Status = uint8(val) | FlagS1
	case CP:
		if val >= 65536 {
			return WidthError{field, val}
		}
		f.CP = uint16(val)
	case CycleCount:
		f.CycleCount = val
	default:
		return fmt.Errorf("unknown register field %d", field)
	}
	return nil
}

// Value reads a named field back out as a uint64 for uniform comparison in
// the DSL's expression evaluator.
func (f *File) Value(field Field) uint64 {
	switch field {
	case A:
		return uint64(f.A)
	case X:
		return uint64(f.X)
	case Y:
		return uint64(f.Y)
	case SP:
		return uint64(f.SP)
	case CP:
		return uint64(f.CP)
	case Status:
		return uint64(f.Status | FlagS1)
	case CycleCount:
		return f.CycleCount
	}
	return 0
}

// Width reports the bit width of a field (8, 16 or 64) for TypeMismatch
// checks in the DSL comparison operators.
func (f Field) Width() int {
	switch f {
	case CP:
		return 16
	case CycleCount:
		return 64
	default:
		return 8
	}
}

// AddCycles advances the monotonic cycle counter. Never decreases: the
// invariant in spec.md §8 ("cycle_count is strictly monotonic" after any
// step) requires cycles > 0 for every executed instruction, which the CPU
// engine guarantees by construction (every opcode has base cycles >= 1).
func (f *File) AddCycles(n uint64) {
	f.CycleCount += n
}
