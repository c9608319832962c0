package dsl

import (
	"fmt"

	deep "github.com/go-test/deep"

	"github.com/soft65c02/soft65c02/dslerr"
)

// evalResult carries a condition's truth value plus a rendering of what
// was actually compared, used both for assertion failure descriptions and
// for the `~` operator's diff-style report.
type evalResult struct {
	ok   bool
	diff string
}

// Eval walks an Expr against the runtime context, implementing the
// `condition`/`comparison` grammar of spec.md §4.3/§4.4.
func Eval(e Expr, ctx *Context) (evalResult, error) {
	switch n := e.(type) {
	case BoolConst:
		return evalResult{ok: bool(n)}, nil
	case AndExpr:
		l, err := Eval(n.Left, ctx)
		if err != nil {
			return evalResult{}, err
		}
		r, err := Eval(n.Right, ctx)
		if err != nil {
			return evalResult{}, err
		}
		return evalResult{ok: l.ok && r.ok}, nil
	case OrExpr:
		l, err := Eval(n.Left, ctx)
		if err != nil {
			return evalResult{}, err
		}
		r, err := Eval(n.Right, ctx)
		if err != nil {
			return evalResult{}, err
		}
		return evalResult{ok: l.ok || r.ok}, nil
	case NotExpr:
		inner, err := Eval(n.Inner, ctx)
		if err != nil {
			return evalResult{}, err
		}
		return evalResult{ok: !inner.ok}, nil
	case CmpExpr:
		return evalCmp(n, ctx)
	default:
		return evalResult{}, fmt.Errorf("unhandled expression node %T", e)
	}
}

func evalCmp(c CmpExpr, ctx *Context) (evalResult, error) {
	switch c.Op {
	case "~":
		return evalSequenceEquals(c, ctx)
	case "->":
		return evalPointerTo(c, ctx)
	default:
		return evalNumericCmp(c, ctx)
	}
}

// resolveLocationAddr turns a memory Location into an absolute address,
// resolving symbol references through ctx.Symbols.
func resolveLocationAddr(a AddrExpr, ctx *Context) (uint16, error) {
	if a.Direct {
		return a.Value, nil
	}
	base, ok := ctx.Symbols.Get(a.Symbol)
	if !ok {
		return 0, dslerr.UnknownSymbol{Name: a.Symbol}
	}
	if !a.HasOffset {
		return base, nil
	}
	if a.Negative {
		return base - a.Offset, nil
	}
	return base + a.Offset, nil
}

// locationValue reads a Location's current value and natural bit width.
func locationValue(loc Location, ctx *Context) (uint64, int, error) {
	if loc.IsRegister {
		return ctx.Registers.Value(loc.Field), loc.Field.Width(), nil
	}
	addr, err := resolveLocationAddr(loc.Addr, ctx)
	if err != nil {
		return 0, 0, err
	}
	b, err := ctx.Fabric.Read(addr)
	if err != nil {
		return 0, 0, err
	}
	return uint64(b), 8, nil
}

func evalNumericCmp(c CmpExpr, ctx *Context) (evalResult, error) {
	lhs, width, err := locationValue(c.Loc, ctx)
	if err != nil {
		return evalResult{}, err
	}
	rhs, err := resolveValueNumber(c.Val, ctx)
	if err != nil {
		return evalResult{}, err
	}
	if rhsWidth := valueWidth(c.Val); rhsWidth > width {
		return evalResult{}, dslerr.TypeMismatch{
			Reason: fmt.Sprintf("location is %d-bit but value needs %d bits", width, rhsWidth),
		}
	}
	var ok bool
	switch c.Op {
	case "=":
		ok = lhs == rhs
	case "!=":
		ok = lhs != rhs
	case "<":
		ok = lhs < rhs
	case "<=":
		ok = lhs <= rhs
	case ">":
		ok = lhs > rhs
	case ">=":
		ok = lhs >= rhs
	default:
		return evalResult{}, fmt.Errorf("unknown comparison operator %q", c.Op)
	}
	return evalResult{ok: ok, diff: fmt.Sprintf("0x%X %s 0x%X", lhs, c.Op, rhs)}, nil
}

func valueWidth(v Value) int {
	switch v.Kind {
	case ValNumber:
		if v.Number > 0xFF {
			return 16
		}
		return 8
	case ValSymbolLow, ValSymbolHigh:
		return 8
	default:
		return 16
	}
}

func resolveValueNumber(v Value, ctx *Context) (uint64, error) {
	switch v.Kind {
	case ValNumber:
		return v.Number, nil
	case ValSymbolLow:
		sym, ok := ctx.Symbols.Get(v.Symbol)
		if !ok {
			return 0, dslerr.UnknownSymbol{Name: v.Symbol}
		}
		return uint64(sym & 0xFF), nil
	case ValSymbolHigh:
		sym, ok := ctx.Symbols.Get(v.Symbol)
		if !ok {
			return 0, dslerr.UnknownSymbol{Name: v.Symbol}
		}
		return uint64(sym >> 8), nil
	default:
		return 0, dslerr.TypeMismatch{Reason: "expected a numeric value"}
	}
}

// evalSequenceEquals implements the `~` operator: compare bytes starting
// at a memory location against an expected byte array or string, and on
// mismatch build a hex-dump diff via go-test/deep.
func evalSequenceEquals(c CmpExpr, ctx *Context) (evalResult, error) {
	if c.Loc.IsRegister {
		return evalResult{}, dslerr.TypeMismatch{Reason: "~ requires a memory location"}
	}
	addr, err := resolveLocationAddr(c.Loc.Addr, ctx)
	if err != nil {
		return evalResult{}, err
	}
	var expected []byte
	switch c.Val.Kind {
	case ValBytes:
		expected = c.Val.Bytes
	case ValString:
		expected = []byte(c.Val.Str)
	default:
		return evalResult{}, dslerr.TypeMismatch{Reason: "~ requires bytes or a string"}
	}
	actual, err := ctx.Fabric.ReadSlice(addr, len(expected))
	if err != nil {
		return evalResult{}, err
	}
	if string(actual) == string(expected) {
		return evalResult{ok: true}, nil
	}
	diffs := deep.Equal(hexDump(expected), hexDump(actual))
	return evalResult{ok: false, diff: fmt.Sprintf("expected %s\nactual   %s\n%v",
		hexDump(expected), hexDump(actual), diffs)}, nil
}

func hexDump(b []byte) string {
	s := ""
	for _, v := range b {
		s += fmt.Sprintf("%02X ", v)
	}
	return s
}

// evalPointerTo implements the `->` operator: read a little-endian 16-bit
// value at the location and compare it to a resolved target address.
func evalPointerTo(c CmpExpr, ctx *Context) (evalResult, error) {
	if c.Loc.IsRegister {
		return evalResult{}, dslerr.TypeMismatch{Reason: "-> requires a memory location"}
	}
	addr, err := resolveLocationAddr(c.Loc.Addr, ctx)
	if err != nil {
		return evalResult{}, err
	}
	lo, err := ctx.Fabric.Read(addr)
	if err != nil {
		return evalResult{}, err
	}
	hi, err := ctx.Fabric.Read(addr + 1)
	if err != nil {
		return evalResult{}, err
	}
	pointee := uint16(lo) | uint16(hi)<<8
	if c.Val.Kind != ValAddr {
		return evalResult{}, dslerr.TypeMismatch{Reason: "-> requires an address target"}
	}
	target, err := resolveLocationAddr(c.Val.Addr, ctx)
	if err != nil {
		return evalResult{}, err
	}
	ok := pointee == target
	return evalResult{ok: ok, diff: fmt.Sprintf("0x%04X -> 0x%04X", addr, target)}, nil
}
