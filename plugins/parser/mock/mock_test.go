package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirparse/pkg/contract"
)

func TestParseLine(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	res, err := p.ParseLine(context.Background(), "the dog runs")
	require.NoError(t, err)
	assert.Equal(t, "(ROOT (S (XX the) (XX dog) (XX runs)))", res.Tree)
	assert.Equal(t, "[root(ROOT-0, the-1), dep(the-1, dog-2), dep(the-1, runs-3)]",
		contract.FormatDependencies(res.Deps))
}

func TestParseLineEmpty(t *testing.T) {
	p, _ := New(nil)
	res, err := p.ParseLine(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, "(ROOT)", res.Tree)
	assert.Empty(t, res.Deps)
}

func TestParseLineCustomTag(t *testing.T) {
	p, err := New([]byte(`{"tag":"TOK"}`))
	require.NoError(t, err)
	res, err := p.ParseLine(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "(ROOT (S (TOK hi)))", res.Tree)
}

func TestParseLineCtxCancel(t *testing.T) {
	p, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ParseLine(ctx, "x")
	assert.Error(t, err)
}
