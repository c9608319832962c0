package dsl

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmediateLDASetsZeroFlag(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$immediate LDA sets zero$$
memory write #0x0800 0x(a9,00)
registers flush
run #0x0800
assert A=0x00 $$A is zero$$
assert CP=0x0802 $$CP advanced two bytes$$
assert cycle_count=2 $$two cycles consumed$$
`, &out)
	require.NoError(t, err)
	require.Len(t, ctx.Plans(), 1)
	assert.True(t, ctx.Plans()[0].Passed(), "plan should fully pass: %s", out.String())
}

func TestTXSDoesNotAffectFlags(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$TXS preserves flags$$
memory write #0x0800 0x(a2,ff,9a)
registers flush
run #0x0800
run
assert X=0xFF $$X loaded$$
assert SP=0xFF $$SP transferred from X$$
assert S=0xB0 $$N set and Z clear from LDX, unchanged by TXS$$
`, &out)
	require.NoError(t, err)
	assert.True(t, ctx.Plans()[0].Passed(), out.String())
}

func TestBranchAcrossPageCycles(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$branch across page boundary$$
registers set CP=0x80FE
memory write #0x80FE 0x(d0,02)
run
assert CP=0x8102 $$branch landed past page boundary$$
assert cycle_count=4 $$base 2 + taken 1 + page-cross 1$$
`, &out)
	require.NoError(t, err)
	assert.True(t, ctx.Plans()[0].Passed(), out.String())
}

func TestRunInitFollowsResetVector(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$run init follows reset vector$$
memory write #0xFFFC 0x(00,80)
memory write #0x8000 0x(ea)
run init until CP!=0x8000
assert CP=0x8001 $$single NOP executed$$
`, &out)
	require.NoError(t, err)
	assert.True(t, ctx.Plans()[0].Passed(), out.String())
}

func TestPointerAssertion(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$pointer assertion$$
symbols add target=0x1234
memory write #0x0200 0x(34,12)
assert #0x0200 -> $target $$pointer resolves to target$$
`, &out)
	require.NoError(t, err)
	assert.True(t, ctx.Plans()[0].Passed(), out.String())
}

func TestPlanSealsAfterFirstFailure(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$a$$
assert false $$x$$
assert true $$y$$
`, &out)
	require.NoError(t, err)
	plan := ctx.Plans()[0]
	require.Len(t, plan.Results, 2)
	assert.False(t, plan.Results[0].Passed)
	assert.False(t, plan.Results[1].Passed, "second assertion should be recorded as not-executed once sealed")
	assert.True(t, plan.Sealed)
}

func TestSequenceEqualsDetectsMismatch(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$sequence equals$$
memory write #0x0600 0x(01,02,03)
assert #0x0600 ~ 0x(01,02,04) $$expect a mismatch on the third byte$$
`, &out)
	require.NoError(t, err)
	plan := ctx.Plans()[0]
	require.Len(t, plan.Results, 1)
	assert.False(t, plan.Results[0].Passed)
	assert.Contains(t, plan.Results[0].Diff, "expected")
}

func TestMemoryFillWrapsAtFFFF(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$fill wraps$$
memory fill 0xFFFF~0x0002 0x42
assert #0xFFFF=0x42 $$first byte$$
assert #0x0000=0x42 $$second byte$$
assert #0x0001=0x42 $$third byte$$
assert #0x0002=0x42 $$fourth byte$$
`, &out)
	require.NoError(t, err)
	assert.True(t, ctx.Plans()[0].Passed(), out.String())
}

func TestNoProgressGuardStopsTightLoop(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$tight loop halts$$
memory write #0x0000 0x(4c,00,00)
run until false
`, &out)
	require.NoError(t, err)
	_ = ctx
	assert.Contains(t, out.String(), "no progress")
}

func TestUnknownSymbolProducesError(t *testing.T) {
	var out bytes.Buffer
	ctx, err := Run(`
marker $$unknown symbol$$
assert #0x0200 -> $nowhere $$should fail to resolve$$
`, &out)
	require.NoError(t, err)
	plan := ctx.Plans()[0]
	require.Len(t, plan.Results, 1)
	assert.False(t, plan.Results[0].Passed)
	assert.Error(t, plan.Results[0].Err)
}
