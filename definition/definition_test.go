package definition

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

// memStorage serves fixed content by URL.
type memStorage map[string][]byte

func (m memStorage) Read(ctx context.Context, url string) ([]byte, error) {
	b, ok := m[url]
	if !ok {
		return nil, errdefs.NotFoundf("%s", url)
	}
	return b, nil
}

func (m memStorage) Path(uri string) (string, error) { return uri, nil }
func (m memStorage) URI(path string) string          { return "file://" + path }

const (
	srcURI = "file:///src/Main.java"
	libURI = "file:///src/Lib.java"
	jarURL = "jar:file:///libs/dep-sources.jar!/com/dep/Dep.java"
)

func TestDefinition(t *testing.T) {
	mainText := "class Main {\n  Lib l;\n  Dep d;\n  int x;\n}\n"
	libText := "package p;\n\nclass Lib {}\n"
	depText := "package com.dep;\npublic class Dep {}\n"

	eng := &analysistest.Engine{
		ResolveFn: func(ctx context.Context, url string, text []byte, offset int) (analysis.Element, bool, error) {
			switch offset {
			case 15: // Lib
				return analysis.Element{URL: libURI, Offset: 18, Name: "Lib"}, true, nil
			case 24: // Dep
				return analysis.Element{URL: jarURL, Offset: 24, Name: "Dep"}, true, nil
			case 33: // int
				return analysis.Element{URL: "file:///gone/Missing.java", Offset: 0}, true, nil
			}
			return analysis.Element{}, false, nil
		},
		ElementFn: func(ctx context.Context, url string, text []byte, offset int) (analysis.Element, bool, error) {
			if offset < 12 {
				return analysis.Element{URL: srcURI, Offset: 6, Name: "Main"}, true, nil
			}
			return analysis.Element{}, false, nil
		},
	}
	log := testr.New(t)
	l := coordinator.New(log)
	defer l.Close()
	store := document.NewStore(log, eng, l)
	ctx := context.Background()
	require.NoError(t, store.Open(ctx, srcURI, 1, []byte(mainText)))

	st := memStorage{
		libURI: []byte(libText),
		jarURL: []byte(depText),
	}
	p := NewProducer(log, store, st)

	tests := []struct {
		name     string
		pos      position.Position
		want     Location
		wantKind errdefs.Kind
	}{
		{
			name: "reference into a file on disk",
			pos:  position.Position{Line: 1, Character: 2},
			want: Location{URI: libURI, Range: position.Point(position.Position{Line: 2, Character: 6})},
		},
		{
			name: "reference into an archive",
			pos:  position.Position{Line: 2, Character: 2},
			want: Location{
				URI:   "zipfile:///libs/dep-sources.jar::com/dep/Dep.java",
				Range: position.Point(position.Position{Line: 1, Character: 7}),
			},
		},
		{
			name: "falls back to the containing element",
			pos:  position.Position{Line: 0, Character: 8},
			want: Location{URI: srcURI, Range: position.Point(position.Position{Line: 0, Character: 6})},
		},
		{name: "unreadable target", pos: position.Position{Line: 3, Character: 2}, wantKind: errdefs.IOFailure},
		{name: "nothing resolves", pos: position.Position{Line: 4, Character: 0}, wantKind: errdefs.NotFound},
		{name: "invalid position", pos: position.Position{Line: 40, Character: 0}, wantKind: errdefs.ValidationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Definition(ctx, srcURI, tt.pos)
			if tt.wantKind != errdefs.Unknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errdefs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefinitionPrefersOpenMirror(t *testing.T) {
	eng := &analysistest.Engine{
		ResolveFn: func(ctx context.Context, url string, text []byte, offset int) (analysis.Element, bool, error) {
			return analysis.Element{URL: libURI, Offset: 4}, true, nil
		},
	}
	log := testr.New(t)
	l := coordinator.New(log)
	defer l.Close()
	store := document.NewStore(log, eng, l)
	ctx := context.Background()
	require.NoError(t, store.Open(ctx, srcURI, 1, []byte("Lib x;")))
	// the editor's unsaved copy puts the declaration on the second line
	require.NoError(t, store.Open(ctx, libURI, 1, []byte("//\n class Lib {}")))

	p := NewProducer(log, store, memStorage{libURI: []byte("class Lib {}")})
	got, err := p.Definition(ctx, srcURI, position.Position{})
	require.NoError(t, err)
	assert.Equal(t, position.Position{Line: 1, Character: 1}, got.Range.Start)
}

func TestDefinitionEngineFailure(t *testing.T) {
	eng := &analysistest.Engine{
		ResolveFn: func(ctx context.Context, url string, text []byte, offset int) (analysis.Element, bool, error) {
			return analysis.Element{}, false, errors.New("index corrupted")
		},
	}
	log := testr.New(t)
	l := coordinator.New(log)
	defer l.Close()
	store := document.NewStore(log, eng, l)
	ctx := context.Background()
	require.NoError(t, store.Open(ctx, srcURI, 1, []byte("x")))

	_, err := NewProducer(log, store, memStorage{}).Definition(ctx, srcURI, position.Position{})
	assert.True(t, errdefs.IsAnalysisFailure(err))
}
