package sgml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirparse/pkg/contract"
)

func TestRenderExactBytes(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	rec := contract.Record{Index: 0, FileID: "a.txt", Text: "The dog runs"}
	res := contract.ParseResult{
		Tree: "(ROOT\n  (S\n    (NP (DT The) (NN dog))\n    (VP (VBZ runs))))",
		Deps: []contract.Dependency{
			{Rel: "root", GovGloss: "ROOT", Gov: 0, DepGloss: "runs", Dep: 3},
			{Rel: "det", GovGloss: "dog", Gov: 2, DepGloss: "The", Dep: 1},
			{Rel: "nsubj", GovGloss: "runs", Gov: 3, DepGloss: "dog", Dep: 2},
		},
	}
	got, err := r.Render(context.Background(), rec, res)
	require.NoError(t, err)
	want := "<sentence>\n" +
		"<str>The dog runs</str>\n" +
		"<penn>\n" +
		"(ROOT\n  (S\n    (NP (DT The) (NN dog))\n    (VP (VBZ runs))))\n" +
		"</penn>\n" +
		"<dep>\n" +
		"[root(ROOT-0, runs-3), det(dog-2, The-1), nsubj(runs-3, dog-2)]\n" +
		"</dep>\n" +
		"</sentence>\n"
	assert.Equal(t, want, got)
}

func TestRenderBlankLine(t *testing.T) {
	r, _ := New(nil)
	rec := contract.Record{Index: 1, FileID: "a.txt", Text: ""}
	got, err := r.Render(context.Background(), rec, contract.ParseResult{Tree: "(ROOT)"})
	require.NoError(t, err)
	want := "<sentence>\n<str></str>\n<penn>\n(ROOT)\n</penn>\n<dep>\n[]\n</dep>\n</sentence>\n"
	assert.Equal(t, want, got)
}

func TestRenderTreeTrailingNewlineNormalized(t *testing.T) {
	r, _ := New(nil)
	rec := contract.Record{Text: "x"}
	// 来自服务端的树可能带尾换行；渲染后恰好一个
	got, err := r.Render(context.Background(), rec, contract.ParseResult{Tree: "(ROOT (NN x))\n"})
	require.NoError(t, err)
	assert.Contains(t, got, "<penn>\n(ROOT (NN x))\n</penn>\n")
}

func TestRenderRawTextPreserved(t *testing.T) {
	r, _ := New(nil)
	// 含尖括号与非 ASCII 的原文必须逐字节保留
	rec := contract.Record{Text: `a <b> & "c" 中文`}
	got, err := r.Render(context.Background(), rec, contract.ParseResult{Tree: "(ROOT)"})
	require.NoError(t, err)
	assert.Contains(t, got, `<str>a <b> & "c" 中文</str>`)
}

func TestRenderCtxCancel(t *testing.T) {
	r, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Render(ctx, contract.Record{}, contract.ParseResult{})
	assert.Error(t, err)
}
