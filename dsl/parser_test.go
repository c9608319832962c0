package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarker(t *testing.T) {
	instrs, err := Parse("marker $$hello world$$\n")
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	m, ok := instrs[0].(MarkerInstr)
	require.True(t, ok)
	assert.Equal(t, "hello world", m.Text)
}

func TestParseCommentsAndBlankLinesIgnored(t *testing.T) {
	instrs, err := Parse(`
// a leading comment
; another style of comment

marker $$x$$
`)
	require.NoError(t, err)
	require.Len(t, instrs, 1)
}

func TestParseMemoryWriteBytes(t *testing.T) {
	instrs, err := Parse("memory write #0x0800 0x(a9,00,60)\n")
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	w, ok := instrs[0].(MemoryWriteInstr)
	require.True(t, ok)
	assert.True(t, w.Addr.Direct)
	assert.Equal(t, uint16(0x0800), w.Addr.Value)
	assert.Equal(t, []byte{0xA9, 0x00, 0x60}, w.Bytes)
}

func TestParseConditionWithLogicalOperators(t *testing.T) {
	instrs, err := Parse("assert A=0x01 AND (X!=0x00 OR NOT Y=0x00) $$complex condition$$\n")
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	_, ok := instrs[0].(AssertInstr)
	require.True(t, ok)
}

func TestParseRunWithoutSpacesAroundOperator(t *testing.T) {
	instrs, err := Parse("run init until CP!=0x8000\n")
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	run, ok := instrs[0].(RunInstr)
	require.True(t, ok)
	assert.True(t, run.IsInit)
	assert.Equal(t, "until", run.StopKeyword)
	cmp, ok := run.Cond.(CmpExpr)
	require.True(t, ok)
	assert.Equal(t, "!=", cmp.Op)
}

func TestParseStringContinuation(t *testing.T) {
	instrs, err := Parse("marker $$first part \\\nsecond part$$\n")
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	m := instrs[0].(MarkerInstr)
	assert.Contains(t, m.Text, "first part")
	assert.Contains(t, m.Text, "second part")
}

func TestParseUnknownInstructionIsParseError(t *testing.T) {
	_, err := Parse("bogus verb\n")
	require.Error(t, err)
}

func TestParseSymbolLowHighByte(t *testing.T) {
	instrs, err := Parse("assert A=<$target $$low byte$$\nassert X=>$target $$high byte$$\n")
	require.NoError(t, err)
	require.Len(t, instrs, 2)
	a1 := instrs[0].(AssertInstr).Cond.(CmpExpr)
	assert.Equal(t, ValSymbolLow, a1.Val.Kind)
	a2 := instrs[1].(AssertInstr).Cond.(CmpExpr)
	assert.Equal(t, ValSymbolHigh, a2.Val.Kind)
}
