package dsl

import (
	"fmt"
	"io"
)

// Reporter renders runner activity in the emoji-tagged line format
// spec.md §7 specifies: `⚡ NN → <description> ✅`/`❌ (<condition>)` for
// assertions, `🔧 Setup: …` for setup verbs, `🚀 <disassembly>` for steps.
type Reporter struct {
	w   io.Writer
	num int
}

// NewReporter wraps w for line-oriented reporter output.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Setup renders a setup-verb line (memory/registers/symbols mutation).
func (r *Reporter) Setup(description string) {
	fmt.Fprintf(r.w, "🔧 Setup: %s\n", description)
}

// Step renders one executed or disassembled instruction line.
func (r *Reporter) Step(disassembly string) {
	fmt.Fprintf(r.w, "🚀 %s\n", disassembly)
}

// Assertion renders one assert verb's outcome.
func (r *Reporter) Assertion(passed bool, description, diff string) {
	r.num++
	if passed {
		fmt.Fprintf(r.w, "⚡ %02d → %s ✅\n", r.num, description)
		return
	}
	if diff != "" {
		fmt.Fprintf(r.w, "⚡ %02d → %s ❌ (%s)\n", r.num, description, diff)
		return
	}
	fmt.Fprintf(r.w, "⚡ %02d → %s ❌\n", r.num, description)
}

// Error renders a propagated typed error.
func (r *Reporter) Error(err error) {
	fmt.Fprintf(r.w, "❌ %s\n", err.Error())
}

// Info renders an informational (non-failure) runner event, such as a
// clean NoProgress/StpHalted loop termination.
func (r *Reporter) Info(msg string) {
	fmt.Fprintf(r.w, "ℹ️  %s\n", msg)
}
