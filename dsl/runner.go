// Package dsl implements the test-automation scripting language described
// in spec.md §4: a lexer/parser producing a typed AST, an expression
// evaluator, binary-format loaders and a runner that drives the CPU engine
// under stop conditions and records assertion results into sealed test
// plans. The package mirrors the teacher's emphasis on small composable
// stages (tokenize -> parse -> evaluate -> report) over one monolithic
// interpreter function.
package dsl

import (
	"fmt"
	"io"
	"os"

	"github.com/soft65c02/soft65c02/cpu"
	"github.com/soft65c02/soft65c02/disassemble"
	"github.com/soft65c02/soft65c02/dslerr"
	"github.com/soft65c02/soft65c02/memory"
	"github.com/soft65c02/soft65c02/registers"
)

// Context is the shared, mutable state a script runs against: `{ fabric,
// registers, symbols, current_plan, reports }` per spec.md §4.4.
type Context struct {
	Fabric            *memory.Fabric
	Registers         *registers.File
	Symbols           *SymbolTable
	ContinueOnFailure bool

	plans  []*TestPlan
	report *Reporter
}

// NewContext builds a Context with a fresh fabric, flushed registers and
// an empty symbol table.
func NewContext(w io.Writer) *Context {
	r := &registers.File{}
	r.Flush()
	return &Context{
		Fabric:    memory.NewFabric(),
		Registers: r,
		Symbols:   NewSymbolTable(),
		report:    NewReporter(w),
	}
}

// TestPlan is the sequence of assertions bounded by a `marker` verb
// (spec.md §3/glossary).
type TestPlan struct {
	Title   string
	Results []AssertionResult
	Sealed  bool
}

// Passed reports whether every recorded assertion in the plan passed.
func (t *TestPlan) Passed() bool {
	for _, r := range t.Results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// AssertionResult is one evaluated `assert` verb's outcome.
type AssertionResult struct {
	Description string
	Passed      bool
	Diff        string
	Err         error
}

// currentPlan returns the open plan, creating an implicit unnamed one if
// the script asserts before its first `marker`.
func (c *Context) currentPlan() *TestPlan {
	if len(c.plans) == 0 {
		c.plans = append(c.plans, &TestPlan{Title: "(default)"})
	}
	return c.plans[len(c.plans)-1]
}

// Plans returns every test plan produced so far, in order.
func (c *Context) Plans() []*TestPlan { return c.plans }

// AllPassed reports whether every plan run so far fully passed, for a
// hosted CLI's exit code (spec.md §6).
func (c *Context) AllPassed() bool {
	for _, p := range c.plans {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Run parses and executes a full script against a fresh context, writing
// reporter output to w, and returns the context for inspecting plan
// results afterward.
func Run(script string, w io.Writer) (*Context, error) {
	return RunWithContext(script, NewContext(w))
}

// RunWithContext parses and executes a script against a caller-supplied
// context, so a host can set ContinueOnFailure or pre-seed symbols before
// running.
func RunWithContext(script string, ctx *Context) (*Context, error) {
	instrs, err := Parse(script)
	if err != nil {
		return nil, err
	}
	for _, instr := range instrs {
		if err := ctx.execute(instr); err != nil {
			if _, isParse := err.(dslerr.ParseError); isParse {
				return ctx, err
			}
		}
	}
	return ctx, nil
}

// execute dispatches one parsed instruction. Once a plan is sealed (an
// assertion failed and continue_on_failure wasn't set), every verb but
// `marker` (which opens a fresh, unsealed plan) and `assert` (which
// records its own not-executed result) is a no-op until the next marker,
// per spec.md §4.4.
func (c *Context) execute(instr Instruction) error {
	switch instr.(type) {
	case MarkerInstr, AssertInstr:
		// always dispatched; see doc comment above.
	default:
		if len(c.plans) > 0 && c.currentPlan().Sealed {
			return nil
		}
	}
	switch n := instr.(type) {
	case MarkerInstr:
		c.plans = append(c.plans, &TestPlan{Title: n.Text})
		c.Registers.Flush()
		c.Fabric.Reset()
		c.Symbols.Reset()
		c.report.Setup(fmt.Sprintf("marker %s", n.Text))
		return nil
	case MemoryFlushInstr:
		c.Fabric.Reset()
		c.report.Setup("memory flush")
		return nil
	case MemoryLoadInstr:
		return c.execMemoryLoad(n)
	case MemoryWriteInstr:
		addr, err := resolveLocationAddr(n.Addr, c)
		if err != nil {
			return c.fail(err)
		}
		if int(addr)+len(n.Bytes) > 0x10000 {
			return c.fail(dslerr.MemoryOverflow{Addr: addr, Len: len(n.Bytes)})
		}
		if err := c.Fabric.WriteSlice(addr, n.Bytes); err != nil {
			return c.fail(err)
		}
		c.report.Setup(fmt.Sprintf("memory write 0x%04X (%d bytes)", addr, len(n.Bytes)))
		return nil
	case MemoryFillInstr:
		start, err := resolveLocationAddr(n.Start, c)
		if err != nil {
			return c.fail(err)
		}
		end, err := resolveLocationAddr(n.End, c)
		if err != nil {
			return c.fail(err)
		}
		if err := c.Fabric.Fill(start, end, n.Value); err != nil {
			return c.fail(err)
		}
		c.report.Setup(fmt.Sprintf("memory fill 0x%04X~0x%04X = 0x%02X", start, end, n.Value))
		return nil
	case MemoryShowInstr:
		start, err := resolveLocationAddr(n.Start, c)
		if err != nil {
			return c.fail(err)
		}
		end, err := resolveLocationAddr(n.End, c)
		if err != nil {
			return c.fail(err)
		}
		length := int(end) - int(start) + 1
		if length <= 0 {
			length += 0x10000
		}
		bytes, err := c.Fabric.ReadSlice(start, length)
		if err != nil {
			return c.fail(err)
		}
		c.report.Setup(fmt.Sprintf("memory show 0x%04X~0x%04X: %s", start, end, hexDump(bytes)))
		return nil
	case RegistersFlushInstr:
		c.Registers.Flush()
		c.report.Setup("registers flush")
		return nil
	case RegistersSetInstr:
		return c.execRegistersSet(n)
	case RegistersShowInstr:
		c.report.Setup(fmt.Sprintf("registers show: %s", formatRegisters(c.Registers)))
		return nil
	case SymbolsLoadInstr:
		content, err := os.ReadFile(n.Path)
		if err != nil {
			return c.fail(dslerr.FileIO{Path: n.Path, Reason: err.Error()})
		}
		if err := LoadViceSymbols(n.Path, string(content), c.Symbols); err != nil {
			return c.fail(err)
		}
		c.report.Setup(fmt.Sprintf("symbols load %q", n.Path))
		return nil
	case SymbolsAddInstr:
		c.Symbols.Set(n.Name, n.Value)
		c.report.Setup(fmt.Sprintf("symbols add %s=0x%04X", n.Name, n.Value))
		return nil
	case RunInstr:
		return c.execRun(n)
	case AssertInstr:
		return c.execAssert(n)
	case DisassembleInstr:
		addr, err := resolveLocationAddr(n.Addr, c)
		if err != nil {
			return c.fail(err)
		}
		for _, line := range disassemble.Range(addr, c.Fabric, n.Count) {
			c.report.Step(line)
		}
		return nil
	default:
		return fmt.Errorf("unhandled instruction %T", instr)
	}
}

func (c *Context) fail(err error) error {
	c.report.Error(err)
	plan := c.currentPlan()
	plan.Sealed = true
	return err
}

func (c *Context) execMemoryLoad(n MemoryLoadInstr) error {
	data, err := os.ReadFile(n.Path)
	if err != nil {
		return c.fail(dslerr.FileIO{Path: n.Path, Reason: err.Error()})
	}
	switch n.Format {
	case "atari":
		if err := LoadAtariXEX(n.Path, data, c.Fabric, c.Symbols); err != nil {
			return c.fail(err)
		}
	case "apple":
		if err := LoadAppleSingle(n.Path, data, c.Fabric); err != nil {
			return c.fail(err)
		}
	default:
		if n.Addr == nil {
			return c.fail(dslerr.FileIO{Path: n.Path, Reason: "memory load requires an address"})
		}
		addr, err := resolveLocationAddr(*n.Addr, c)
		if err != nil {
			return c.fail(err)
		}
		if int(addr)+len(data) > 0x10000 {
			return c.fail(dslerr.MemoryOverflow{Addr: addr, Len: len(data)})
		}
		if err := c.Fabric.WriteSlice(addr, data); err != nil {
			return c.fail(err)
		}
	}
	c.report.Setup(fmt.Sprintf("memory load %s %q", n.Format, n.Path))
	return nil
}

// execRegistersSet resolves the S/SP naming ambiguity spec.md §9's Open
// Question describes. The canonical grammar's `SP` always means the
// stack pointer. `S` is ambiguous by history: older scripts used it for
// the stack pointer, newer ones for status. Resolved by value shape: a
// `0b`-prefixed binary literal targets status (an 8-bit flag pattern is
// virtually never a plausible stack pointer value written in binary);
// anything else targets SP, the legacy meaning.
func (c *Context) execRegistersSet(n RegistersSetInstr) error {
	name := n.Name
	field, ok := registerNames[name]
	if !ok {
		return c.fail(dslerr.TypeMismatch{Reason: fmt.Sprintf("unknown register %q", name)})
	}
	if name == "S" {
		if n.Binary {
			field = registers.Status
		} else {
			field = registers.SP
		}
	}
	if err := c.Registers.Set(field, n.Value); err != nil {
		return c.fail(err)
	}
	c.report.Setup(fmt.Sprintf("registers set %s=0x%X", name, n.Value))
	return nil
}

func (c *Context) execRun(n RunInstr) error {
	if n.HasTarget {
		if n.IsInit {
			lo, err := c.Fabric.Read(0xFFFC)
			if err != nil {
				return c.fail(err)
			}
			hi, err := c.Fabric.Read(0xFFFD)
			if err != nil {
				return c.fail(err)
			}
			c.Registers.CP = uint16(lo) | uint16(hi)<<8
		} else {
			c.Registers.CP = n.Addr
		}
	}

	if n.StopKeyword == "" {
		out, err := cpu.Step(c.Fabric, c.Registers)
		if err != nil {
			return c.fail(err)
		}
		c.report.Step(out.Disassembly)
		return nil
	}

	for {
		pcBefore := c.Registers.CP
		out, err := cpu.Step(c.Fabric, c.Registers)
		if err != nil {
			return c.fail(err)
		}
		c.report.Step(out.Disassembly)
		if out.StpHalted {
			c.report.Info(dslerr.StpHalted{PC: out.PCBefore}.Error())
			return nil
		}
		if c.Registers.CP == pcBefore {
			c.report.Info(dslerr.NoProgress{PC: c.Registers.CP}.Error())
			return nil
		}
		result, err := Eval(n.Cond, c)
		if err != nil {
			return c.fail(err)
		}
		if n.StopKeyword == "until" && result.ok {
			return nil
		}
		if n.StopKeyword == "while" && !result.ok {
			return nil
		}
	}
}

func (c *Context) execAssert(n AssertInstr) error {
	plan := c.currentPlan()
	if plan.Sealed {
		plan.Results = append(plan.Results, AssertionResult{Description: n.Text, Passed: false})
		return nil
	}
	result, err := Eval(n.Cond, c)
	if err != nil {
		plan.Results = append(plan.Results, AssertionResult{Description: n.Text, Passed: false, Err: err})
		plan.Sealed = !c.ContinueOnFailure
		c.report.Error(err)
		return err
	}
	if result.ok {
		plan.Results = append(plan.Results, AssertionResult{Description: n.Text, Passed: true, Diff: result.diff})
		c.report.Assertion(true, n.Text, "")
		return nil
	}
	failErr := dslerr.AssertionFailed{Description: n.Text, Diff: result.diff}
	plan.Results = append(plan.Results, AssertionResult{Description: n.Text, Passed: false, Diff: result.diff, Err: failErr})
	c.report.Assertion(false, n.Text, result.diff)
	if !c.ContinueOnFailure {
		plan.Sealed = true
	}
	return nil
}

func formatRegisters(r *registers.File) string {
	return fmt.Sprintf("A=0x%02X X=0x%02X Y=0x%02X SP=0x%02X CP=0x%04X S=0x%02X cycle_count=%d",
		r.A, r.X, r.Y, r.SP, r.CP, r.Status, r.CycleCount)
}
