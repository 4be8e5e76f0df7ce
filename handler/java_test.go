package handler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/analysis/analysistest"
	"github.com/draftcode/ijaas/completion"
	"github.com/draftcode/ijaas/coordinator"
	"github.com/draftcode/ijaas/diagnostics"
	"github.com/draftcode/ijaas/document"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/storage"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type javaFixture struct {
	handlers *JavaHandlers
	store    *document.Store
	storage  *storage.FS
	engine   *analysistest.Engine
	dir      string
}

func newJavaFixture(t *testing.T, eng *analysistest.Engine) *javaFixture {
	t.Helper()
	log := testr.New(t)
	l := coordinator.New(log)
	t.Cleanup(l.Close)
	st := storage.NewFS(log)
	t.Cleanup(func() { st.Close() })
	store := document.NewStore(log, eng, l)
	diags := diagnostics.NewProducer(log, store)
	t.Cleanup(diags.Stop)
	return &javaFixture{
		handlers: NewJavaHandlers(log, store, completion.NewProducer(log, store), diags, st),
		store:    store,
		storage:  st,
		engine:   eng,
		dir:      t.TempDir(),
	}
}

func (f *javaFixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func finding(rule, highlight, msg string, start int) analysis.Finding {
	return analysis.Finding{
		Rule:          rule,
		HighlightType: highlight,
		Message:       msg,
		Start:         &analysis.SourceElement{TextRange: analysis.TextRange{Start: start, End: start + 1}},
	}
}

func TestJavaComplete(t *testing.T) {
	var gotURL string
	var gotText string
	var gotOffset int
	eng := &analysistest.Engine{
		CompleteFn: func(ctx context.Context, url string, text []byte, offset int) ([]analysis.Candidate, error) {
			gotURL, gotText, gotOffset = url, string(text), offset
			return []analysis.Candidate{
				{LookupString: "return", Kind: analysis.KindKeyword, Declaration: &analysis.Declaration{Name: "return"}},
				{
					LookupString: "getName", PrefixLength: 3, Kind: analysis.KindCallable,
					TypeText: "String", TailText: "Person",
					Declaration: &analysis.Declaration{Name: "getName", ReturnType: "String"},
				},
				{
					LookupString: "setName", Kind: analysis.KindCallable,
					TypeText: "void", TailText: "Person",
					Declaration: &analysis.Declaration{Name: "setName", ReturnType: "void", Params: []analysis.Param{{Name: "n", Type: "String"}}},
				},
				{LookupString: "ArrayList", Kind: analysis.KindType, TailText: " (java.util)", Declaration: &analysis.Declaration{Name: "ArrayList"}},
				{LookupString: "count", Kind: analysis.KindVariable, TypeText: "int", Declaration: &analysis.Declaration{Name: "count"}},
				{LookupString: "dropped", Kind: analysis.KindVariable},
			}, nil
		},
	}
	f := newJavaFixture(t, eng)
	text := "class A { void f() { p.get } }"
	file := filepath.Join(f.dir, "A.java")

	resp, err := f.handlers.Complete(context.Background(), JavaCompleteRequest{File: file, Text: text, Offset: 26})
	require.NoError(t, err)
	assert.Equal(t, []Completion{
		{Word: "ArrayList", Menu: " (java.util)", Kind: CompletionType},
		{Word: "Name()", Menu: "String - Person", Kind: CompletionFunction},
		{Word: "count", Menu: "int", Kind: CompletionVariable},
		{Word: "setName(", Menu: "void - Person", Kind: CompletionFunction},
		{Word: "return", Kind: CompletionKeyword},
	}, resp.Completions)

	assert.True(t, strings.HasPrefix(gotURL, f.storage.URI(file)+"#"), "scratch url %s", gotURL)
	assert.Equal(t, text, gotText)
	assert.Equal(t, 26, gotOffset)
	assert.Zero(t, eng.Live(), "scratch document must be released")
	assert.Empty(t, f.store.URIs())
}

func TestJavaCompleteValidation(t *testing.T) {
	f := newJavaFixture(t, &analysistest.Engine{})
	tests := []struct {
		name string
		req  JavaCompleteRequest
	}{
		{name: "no file", req: JavaCompleteRequest{Text: "abc", Offset: 1}},
		{name: "negative offset", req: JavaCompleteRequest{File: "/A.java", Text: "abc", Offset: -1}},
		{name: "offset past end", req: JavaCompleteRequest{File: "/A.java", Text: "abc", Offset: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handlers.Complete(context.Background(), tt.req)
			assert.True(t, errdefs.IsValidation(err), "got %v", err)
		})
	}

	resp, err := f.handlers.Complete(context.Background(), JavaCompleteRequest{File: "/A.java", Text: "abc", Offset: 3})
	require.NoError(t, err)
	assert.NotNil(t, resp.Completions)
	assert.Empty(t, resp.Completions)
}

func TestJavaSrcUpdate(t *testing.T) {
	eng := &analysistest.Engine{
		InspectFn: func(ctx context.Context, url string, text []byte) ([]analysis.Finding, error) {
			if !strings.Contains(string(text), "broken") {
				return nil, nil
			}
			return []analysis.Finding{
				finding("UnusedImport", analysis.HighlightUnusedSymbol, "unused import", 0),
				finding("SyntaxError", analysis.HighlightError, "';' expected", 4),
				finding("SyntaxError", analysis.HighlightError, "')' expected", 2),
				finding("MissingToken", analysis.HighlightGenericError, "'}' expected", 4),
			}, nil
		},
	}
	f := newJavaFixture(t, eng)
	path := f.write(t, "A.java", "a\nb\nbroken\n")

	resp, err := f.handlers.SrcUpdate(context.Background(), JavaSrcUpdateRequest{File: path})
	require.NoError(t, err)
	assert.Equal(t, []Problem{
		{Lnum: 2, Text: "')' expected", Type: ProblemError},
		{Lnum: 3, Text: "';' expected", Type: ProblemError},
		{Lnum: 3, Text: "'}' expected", Type: ProblemError},
		{Lnum: 1, Text: "unused import", Type: ProblemWarning},
	}, resp.Problems)
	assert.Zero(t, eng.Live(), "a file that was not open is closed again")
}

func TestJavaSrcUpdateOpenDocument(t *testing.T) {
	eng := &analysistest.Engine{
		InspectFn: func(ctx context.Context, url string, text []byte) ([]analysis.Finding, error) {
			if strings.Contains(string(text), "broken") {
				return []analysis.Finding{finding("SyntaxError", analysis.HighlightError, "bad", 0)}, nil
			}
			return nil, nil
		},
	}
	f := newJavaFixture(t, eng)
	path := f.write(t, "A.java", "broken\n")
	uri := f.storage.URI(path)
	require.NoError(t, f.store.Open(context.Background(), uri, 3, []byte("fine\n")))

	resp, err := f.handlers.SrcUpdate(context.Background(), JavaSrcUpdateRequest{File: path})
	require.NoError(t, err)
	assert.Equal(t, []Problem{{Lnum: 1, Text: "bad", Type: ProblemError}}, resp.Problems, "problems come from the disk content")

	doc, err := f.store.Get(uri)
	require.NoError(t, err, "an open document stays open")
	assert.Equal(t, "fine\n", string(doc.Text))
	assert.Equal(t, int32(3), doc.Version)
	assert.Equal(t, 1, eng.Live())
}

func TestJavaSrcUpdateConcurrent(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	eng := &analysistest.Engine{
		InspectFn: func(ctx context.Context, url string, text []byte) ([]analysis.Finding, error) {
			first := false
			once.Do(func() { first = true })
			if first {
				close(entered)
				<-release
			}
			return []analysis.Finding{finding("SyntaxError", analysis.HighlightError, "bad", 0)}, nil
		},
	}
	f := newJavaFixture(t, eng)
	path := f.write(t, "A.java", "broken\n")

	tests := []struct {
		name string
	}{
		{name: "first"},
		{name: "second"},
	}
	errs := make([]error, len(tests))
	resps := make([]*JavaSrcUpdateResponse, len(tests))
	var wg sync.WaitGroup
	for i := range tests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resps[i], errs[i] = f.handlers.SrcUpdate(context.Background(), JavaSrcUpdateRequest{File: path})
		}(i)
		if i == 0 {
			<-entered
		}
	}
	// Let the second request reach the store before the first one finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, tt := range tests {
		require.NoError(t, errs[i], tt.name)
		assert.Equal(t, []Problem{{Lnum: 1, Text: "bad", Type: ProblemError}}, resps[i].Problems, tt.name)
	}
	assert.Zero(t, eng.Live(), "every scratch copy is closed")
	_, err := f.store.Get(f.storage.URI(path))
	assert.True(t, errdefs.IsNotFound(err), "the real URI is never opened")
}

func TestJavaSrcUpdateMissingFile(t *testing.T) {
	f := newJavaFixture(t, &analysistest.Engine{})
	_, err := f.handlers.SrcUpdate(context.Background(), JavaSrcUpdateRequest{File: filepath.Join(f.dir, "Nope.java")})
	assert.True(t, errdefs.IsNotFound(err), "got %v", err)

	_, err = f.handlers.SrcUpdate(context.Background(), JavaSrcUpdateRequest{})
	assert.True(t, errdefs.IsValidation(err), "got %v", err)
}

func TestJavaGetImportCandidates(t *testing.T) {
	var gotText string
	eng := &analysistest.Engine{
		ImportsFn: func(ctx context.Context, url string, text []byte) ([][]string, error) {
			gotText = string(text)
			return [][]string{
				{"java.util.List", "java.awt.List"},
				{},
				{"java.util.Map", "java.util.Map"},
			}, nil
		},
	}
	f := newJavaFixture(t, eng)
	resp, err := f.handlers.ImportCandidates(context.Background(), JavaGetImportCandidatesRequest{
		File: "/src/A.java",
		Text: "class A { List<String> l; Map<String, String> m; }",
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"import java.awt.List;", "import java.util.List;"},
		{"import java.util.Map;"},
	}, resp.Choices)
	assert.Contains(t, gotText, "List<String>")
	assert.Zero(t, eng.Live())
}

func TestJavaRegister(t *testing.T) {
	f := newJavaFixture(t, &analysistest.Engine{})
	r := NewRegistry()
	f.handlers.Register(r)
	assert.Equal(t, []string{
		MethodEcho,
		MethodJavaComplete,
		MethodJavaGetImportCandidates,
		MethodJavaSrcUpdate,
	}, r.Methods())

	got, err := r.Handle(context.Background(), &Request{
		Method: MethodJavaComplete,
		Params: []byte(`{"file":"/A.java","text":"ab","offset":9}`),
	})
	assert.Nil(t, got)
	assert.True(t, errdefs.IsValidation(err))
}
