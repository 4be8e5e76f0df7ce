package javats

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/position"
	"github.com/draftcode/ijaas/storage"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workspace writes files below a temp dir and returns an engine over it.
func workspace(t *testing.T, files map[string]string) (*Engine, *storage.FS, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	fs := storage.NewFS(testr.New(t))
	t.Cleanup(func() { fs.Close() })
	return New(testr.New(t), fs), fs, dir
}

func parseDoc(t *testing.T, e *Engine, url, text string) analysis.Handle {
	t.Helper()
	h, err := e.Parse(context.Background(), url, []byte(text))
	require.NoError(t, err)
	t.Cleanup(func() { e.Release(h) })
	return h
}

func TestParseIndexesFileDocuments(t *testing.T) {
	e, _, _ := workspace(t, nil)
	ctx := context.Background()

	h := parseDoc(t, e, "file:///ws/A.java", "package p;\nclass A {}\n")
	parseDoc(t, e, "file:///ws/S.java#0f1c", "package p;\nclass S {}\n")

	assert.NotNil(t, e.Index().Qualified("p.A"))
	assert.Nil(t, e.Index().Qualified("p.S"), "scratch documents stay out of the index")

	start := strings.Index("package p;\nclass A {}\n", "A")
	require.NoError(t, e.Reparse(ctx, h, []analysis.Edit{{Start: start, End: start + 1, Text: "B"}}))
	assert.Nil(t, e.Index().Qualified("p.A"))
	assert.NotNil(t, e.Index().Qualified("p.B"))
}

func TestReparse(t *testing.T) {
	e, _, _ := workspace(t, nil)
	ctx := context.Background()
	h := parseDoc(t, e, "file:///ws/A.java", "class A {\n}\n")

	err := e.Reparse(ctx, h, []analysis.Edit{
		{Start: 10, End: 10, Text: "  int x;\n"},
		{Start: 12, End: 15, Text: "long"},
	})
	require.NoError(t, err)
	text, err := e.Text(h)
	require.NoError(t, err)
	assert.Equal(t, "class A {\n  long x;\n}\n", string(text))

	d, err := e.get(h)
	require.NoError(t, err)
	require.Len(t, d.unit.types, 1)
	require.Len(t, d.unit.types[0].members, 1)
	assert.Equal(t, "long", d.unit.types[0].members[0].typ)
	assert.False(t, d.tree.RootNode().HasError())

	err = e.Reparse(ctx, h, []analysis.Edit{{Start: 5, End: 500}})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}

func TestReloadFromDisk(t *testing.T) {
	e, fs, dir := workspace(t, map[string]string{"A.java": "class A { int disk; }"})
	ctx := context.Background()
	url := fs.URI(filepath.Join(dir, "A.java"))

	h := parseDoc(t, e, url+"#scratch", "class A { int memory; }")
	text, err := e.ReloadFromDisk(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "class A { int disk; }", string(text))

	d, err := e.get(h)
	require.NoError(t, err)
	assert.Equal(t, "disk", d.unit.types[0].members[0].name)

	gone := parseDoc(t, e, fs.URI(filepath.Join(dir, "Gone.java")), "class Gone {}")
	_, err = e.ReloadFromDisk(ctx, gone)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRelease(t *testing.T) {
	e, _, _ := workspace(t, nil)
	h, err := e.Parse(context.Background(), "file:///A.java", []byte("class A {}"))
	require.NoError(t, err)
	e.Release(h)
	e.Release(h)

	_, err = e.Text(h)
	assert.True(t, errdefs.IsNotFound(err))
	_, err = e.RunInspections(context.Background(), h)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestIndexFolder(t *testing.T) {
	e, fs, dir := workspace(t, map[string]string{
		"src/com/example/Foo.java":  "package com.example;\npublic class Foo { class Inner {} }\n",
		"src/com/example/notes.txt": "class NotJava {}",
	})
	jar := filepath.Join(dir, "lib-sources.jar")
	f, err := os.Create(jar)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("com/lib/Bar.java")
	require.NoError(t, err)
	_, err = w.Write([]byte("package com.lib;\npublic interface Bar {}\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	ctx := context.Background()
	require.NoError(t, e.IndexFolder(ctx, fs.URI(filepath.Join(dir, "src"))))
	require.NoError(t, e.IndexFolder(ctx, fs.URI(jar)))
	require.NoError(t, e.IndexFolder(ctx, fs.URI(jar)))

	foo := e.Index().Qualified("com.example.Foo")
	require.NotNil(t, foo)
	assert.Equal(t, fs.URI(filepath.Join(dir, "src", "com", "example", "Foo.java")), foo.url)
	assert.NotNil(t, e.Index().Qualified("com.example.Foo.Inner"))
	assert.Empty(t, e.Index().Lookup("NotJava"))

	bar := e.Index().Qualified("com.lib.Bar")
	require.NotNil(t, bar)
	assert.Equal(t, "interface", bar.kind)
	assert.Equal(t, position.ArchiveURL(fs.URI(jar), "com/lib/Bar.java"), bar.url)
	assert.Equal(t, 2, e.Index().Len())

	err = e.IndexFolder(ctx, fs.URI(filepath.Join(dir, "missing.jar")))
	assert.True(t, errdefs.IsNotFound(err))
}

func TestIndexFolderAlongsideEdits(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 50; i++ {
		name := "T" + strings.Repeat("x", i)
		files["src/p/"+name+".java"] = "package p;\nclass " + name + " { void m() {} }\n"
	}
	e, fs, dir := workspace(t, files)
	ctx := context.Background()
	text := "package q;\nclass A { void f() { } }\n"
	h := parseDoc(t, e, "file:///ws/A.java", text)

	var wg sync.WaitGroup
	var indexErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		indexErr = e.IndexFolder(ctx, fs.URI(filepath.Join(dir, "src")))
	}()
	at := strings.Index(text, "{ }") + 1
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Reparse(ctx, h, []analysis.Edit{{Start: at, End: at, Text: "x"}}))
		require.NoError(t, e.Reparse(ctx, h, []analysis.Edit{{Start: at, End: at + 1, Text: ""}}))
		_, err := e.CompleteAt(ctx, h, at)
		require.NoError(t, err)
	}
	wg.Wait()

	require.NoError(t, indexErr)
	assert.NotNil(t, e.Index().Qualified("p.T"))
	assert.NotNil(t, e.Index().Qualified("q.A"))
	assert.Equal(t, 51, e.Index().Len())
}
