package completion

import (
	"context"
	"errors"
	"testing"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/analysis/analysistest"
	"github.com/draftcode/ijaas/coordinator"
	"github.com/draftcode/ijaas/document"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/position"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uri = "file:///src/A.java"

func setup(t *testing.T, eng *analysistest.Engine, text string) (*Producer, *coordinator.Recorder) {
	t.Helper()
	log := testr.New(t)
	l := coordinator.New(log)
	t.Cleanup(l.Close)
	rec := coordinator.NewRecorder(l)
	store := document.NewStore(log, eng, rec)
	require.NoError(t, store.Open(context.Background(), uri, 1, []byte(text)))
	return NewProducer(log, store), rec
}

func TestMap(t *testing.T) {
	tests := []struct {
		name   string
		native analysis.Candidate
		want   Candidate
	}{
		{
			name: "parameterless method",
			native: analysis.Candidate{
				LookupString: "f",
				Kind:         analysis.KindCallable,
				Declaration:  &analysis.Declaration{Name: "f", ReturnType: "void"},
			},
			want: Candidate{Label: "f()", InsertText: "f()", Kind: KindMethod, Detail: "void f()"},
		},
		{
			name: "generic method with params and throws",
			native: analysis.Candidate{
				LookupString: "map",
				Kind:         analysis.KindCallable,
				Declaration: &analysis.Declaration{
					Name:       "map",
					TypeParams: "<T>",
					ReturnType: "List<T>",
					Params:     []analysis.Param{{Name: "in", Type: "T"}, {Name: "n", Type: "int"}},
					Throws:     []string{"IOException", "TimeoutException"},
					DocComment: "/**\n * Maps things.\n *\n * @param in input\n */",
				},
			},
			want: Candidate{
				Label:         "map(in, n)",
				InsertText:    "map(",
				Kind:          KindMethod,
				Detail:        "<T> List<T> map(in, n) throws IOException, TimeoutException",
				Documentation: "Maps things.\n\n@param in input",
			},
		},
		{
			name:   "keyword",
			native: analysis.Candidate{LookupString: "return", Kind: analysis.KindKeyword, Declaration: &analysis.Declaration{}},
			want:   Candidate{Label: "return", InsertText: "return", Kind: KindKeyword},
		},
		{
			name:   "class",
			native: analysis.Candidate{LookupString: "String", Kind: analysis.KindType, TailText: " (java.lang)", Declaration: &analysis.Declaration{}},
			want:   Candidate{Label: "String", InsertText: "String", Kind: KindClass, Detail: " (java.lang)"},
		},
		{
			name:   "variable",
			native: analysis.Candidate{LookupString: "count", Kind: analysis.KindVariable, TypeText: "int", Declaration: &analysis.Declaration{}},
			want:   Candidate{Label: "count", InsertText: "count", Kind: KindVariable, Detail: "int"},
		},
		{
			name:   "other",
			native: analysis.Candidate{LookupString: "java", Kind: analysis.KindOther, Category: "package", Declaration: &analysis.Declaration{}},
			want:   Candidate{Label: "java", InsertText: "java", Kind: KindOther, Detail: "package"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Map(tt.native))
		})
	}
}

func TestSort(t *testing.T) {
	cs := []Candidate{
		{Label: "while", Kind: KindKeyword},
		{Label: "b", Kind: KindVariable},
		{Label: "do", Kind: KindKeyword},
		{Label: "a()", Kind: KindMethod},
		{Label: "C", Kind: KindClass},
	}
	Sort(cs)
	got := []string{}
	for _, c := range cs {
		got = append(got, c.Label)
	}
	assert.Equal(t, []string{"C", "a()", "b", "do", "while"}, got)
}

func TestComplete(t *testing.T) {
	text := "class A {\n  void f() {}\n  void g(A a) { a.f }\n}\n"
	var gotOffset int
	eng := &analysistest.Engine{
		CompleteFn: func(ctx context.Context, url string, b []byte, offset int) ([]analysis.Candidate, error) {
			gotOffset = offset
			return []analysis.Candidate{
				{LookupString: "f", Kind: analysis.KindCallable, PrefixLength: 1, Declaration: &analysis.Declaration{Name: "f", ReturnType: "void"}},
				{LookupString: "final", Kind: analysis.KindKeyword, PrefixLength: 1, Declaration: &analysis.Declaration{}},
				{LookupString: "fantom", Kind: analysis.KindVariable, PrefixLength: 1},
			}, nil
		},
	}
	p, rec := setup(t, eng, text)

	got, err := p.Complete(context.Background(), uri, position.Position{Line: 2, Character: 19})
	require.NoError(t, err)
	require.Len(t, got, 2, "unresolved candidates are dropped")
	assert.Equal(t, "f()", got[0].InsertText)
	assert.Equal(t, KindMethod, got[0].Kind)
	assert.Equal(t, KindKeyword, got[1].Kind)
	assert.Equal(t, 43, gotOffset)

	calls := rec.Calls()
	assert.Equal(t, []coordinator.Mode{coordinator.Shared, coordinator.Affine}, calls[len(calls)-2:])
}

// editBeforeAffine applies an edit right before the affine step starts.
type editBeforeAffine struct {
	coordinator.Coordinator
	edit func()
}

func (c *editBeforeAffine) RunAffine(ctx context.Context, op coordinator.Op) error {
	if c.edit != nil {
		edit := c.edit
		c.edit = nil
		edit()
	}
	return c.Coordinator.RunAffine(ctx, op)
}

func TestCompleteEditBetweenSteps(t *testing.T) {
	tests := []struct {
		name       string
		edit       []document.Change
		pos        position.Position
		wantOffset int
		wantChar   byte
	}{
		{
			name:       "no edit",
			pos:        position.Position{Line: 1, Character: 1},
			wantOffset: 5,
			wantChar:   'y',
		},
		{
			name: "line inserted above",
			edit: []document.Change{{
				Range: &position.Range{},
				Text:  "12345\n",
			}},
			pos:        position.Position{Line: 1, Character: 1},
			wantOffset: 7,
			wantChar:   'b',
		},
		{
			name:       "whole text replaced",
			edit:       []document.Change{{Text: "q\nrstuv"}},
			pos:        position.Position{Line: 1, Character: 1},
			wantOffset: 3,
			wantChar:   's',
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOffset int
			var gotText []byte
			eng := &analysistest.Engine{
				CompleteFn: func(ctx context.Context, url string, b []byte, offset int) ([]analysis.Candidate, error) {
					gotOffset, gotText = offset, b
					return nil, nil
				},
			}
			log := testr.New(t)
			l := coordinator.New(log)
			t.Cleanup(l.Close)
			coord := &editBeforeAffine{Coordinator: l}
			store := document.NewStore(log, eng, coord)
			ctx := context.Background()
			require.NoError(t, store.Open(ctx, uri, 1, []byte("abc\nxyz")))
			if tt.edit != nil {
				coord.edit = func() {
					require.NoError(t, store.ApplyChange(ctx, uri, 2, tt.edit))
				}
			}

			_, err := NewProducer(log, store).Complete(ctx, uri, tt.pos)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOffset, gotOffset)
			require.Less(t, gotOffset, len(gotText))
			assert.Equal(t, tt.wantChar, gotText[gotOffset])
		})
	}
}

func TestCompleteErrors(t *testing.T) {
	eng := &analysistest.Engine{
		CompleteFn: func(ctx context.Context, url string, b []byte, offset int) ([]analysis.Candidate, error) {
			return []analysis.Candidate{{LookupString: "x", Declaration: &analysis.Declaration{}}}, errors.New("indexing in progress")
		},
	}
	p, _ := setup(t, eng, "class A {}")
	ctx := context.Background()

	_, err := p.Complete(ctx, "file:///src/Other.java", position.Position{})
	assert.True(t, errdefs.IsNotFound(err))

	_, err = p.Complete(ctx, uri, position.Position{Line: 9})
	assert.True(t, errdefs.IsValidation(err))

	got, err := p.Complete(ctx, uri, position.Position{Line: 0, Character: 3})
	assert.True(t, errdefs.IsAnalysisFailure(err))
	assert.Nil(t, got, "no partial result")
}
