// Package javats is an analysis.Engine for Java sources built on the
// tree-sitter Java grammar. Names are resolved against the open documents and
// an index of the workspace folders and source archives handed to
// IndexFolder.
package javats

import (
	"context"
	"strings"
	"sync"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/position"
	"github.com/draftcode/ijaas/storage"
	"github.com/draftcode/ijaas/tracing"
	"github.com/go-logr/logr"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"go.opentelemetry.io/otel/attribute"
)

const javaSuffix = ".java"

// Source is where the engine reads files it does not hold open.
type Source interface {
	storage.Storage
	Walk(ctx context.Context, rootURI, suffix string) ([]string, error)
	Members(archiveURI, suffix string) ([]string, error)
}

var _ Source = &storage.FS{}

type document struct {
	url  string
	text []byte
	tree *sitter.Tree
	unit *unit
}

type Engine struct {
	log    logr.Logger
	source Source
	index  *Index

	mu      sync.Mutex
	next    analysis.Handle
	docs    map[analysis.Handle]*document
	folders map[string]bool
}

var _ analysis.Engine = &Engine{}
var _ analysis.ImportResolver = &Engine{}
var _ analysis.WorkspaceIndexer = &Engine{}

func New(log logr.Logger, source Source) *Engine {
	return &Engine{
		log:     log.WithName("javats"),
		source:  source,
		index:   NewIndex(),
		docs:    map[analysis.Handle]*document{},
		folders: map[string]bool{},
	}
}

// Index returns the workspace index.
func (e *Engine) Index() *Index {
	return e.index
}

func parse(ctx context.Context, old *sitter.Tree, text []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(java.GetLanguage())
	tree, err := parser.ParseCtx(ctx, old, text)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.AnalysisFailure, err, "parse")
	}
	return tree, nil
}

func (e *Engine) Parse(ctx context.Context, url string, text []byte) (analysis.Handle, error) {
	text = append([]byte(nil), text...)
	tree, err := parse(ctx, nil, text)
	if err != nil {
		return 0, err
	}
	d := &document{url: url, text: text, tree: tree}
	e.refresh(d)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.docs[e.next] = d
	e.log.V(7).Info("parsed", "url", url, "handle", e.next)
	return e.next, nil
}

func (e *Engine) Reparse(ctx context.Context, h analysis.Handle, edits []analysis.Edit) error {
	d, err := e.get(h)
	if err != nil {
		return err
	}
	text := d.text
	old := d.tree
	for _, ed := range edits {
		if ed.Start < 0 || ed.End > len(text) || ed.Start > ed.End {
			return errdefs.Validationf("edit [%d, %d) is outside of %s (length %d)", ed.Start, ed.End, d.url, len(text))
		}
		next := make([]byte, 0, len(text)-(ed.End-ed.Start)+len(ed.Text))
		next = append(next, text[:ed.Start]...)
		next = append(next, ed.Text...)
		next = append(next, text[ed.End:]...)
		old.Edit(sitter.EditInput{
			StartIndex:  uint32(ed.Start),
			OldEndIndex: uint32(ed.End),
			NewEndIndex: uint32(ed.Start + len(ed.Text)),
			StartPoint:  point(text, ed.Start),
			OldEndPoint: point(text, ed.End),
			NewEndPoint: point(next, ed.Start+len(ed.Text)),
		})
		text = next
	}
	tree, err := parse(ctx, old, text)
	if err != nil {
		return err
	}
	old.Close()
	d.text = text
	d.tree = tree
	e.refresh(d)
	return nil
}

func (e *Engine) ReloadFromDisk(ctx context.Context, h analysis.Handle) ([]byte, error) {
	d, err := e.get(h)
	if err != nil {
		return nil, err
	}
	text, err := e.source.Read(ctx, diskURL(d.url))
	if err != nil {
		return nil, err
	}
	tree, err := parse(ctx, nil, text)
	if err != nil {
		return nil, err
	}
	d.tree.Close()
	d.text = text
	d.tree = tree
	e.refresh(d)
	return append([]byte(nil), text...), nil
}

func (e *Engine) Release(h analysis.Handle) {
	e.mu.Lock()
	d, ok := e.docs[h]
	delete(e.docs, h)
	e.mu.Unlock()
	if ok {
		d.tree.Close()
	}
}

// Text returns the current content of h.
func (e *Engine) Text(h analysis.Handle) ([]byte, error) {
	d, err := e.get(h)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), d.text...), nil
}

func (e *Engine) get(h analysis.Handle) (*document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.docs[h]
	if !ok {
		return nil, errdefs.NotFoundf("handle %d is not found", h)
	}
	return d, nil
}

// refresh extracts the declarations of d. Documents backed by a real file
// replace what the index knows about that file.
func (e *Engine) refresh(d *document) {
	d.unit = extract(d.tree.RootNode(), d.text, d.url)
	if !strings.Contains(d.url, "#") {
		e.index.Add(d.unit)
	}
}

// IndexFolder indexes every Java file below folderURI. Source archives
// (.jar, .zip) are indexed member by member. Folders already indexed are
// skipped. It only touches the index and the folder set, both guarded here,
// so callers run it without holding the coordinator.
func (e *Engine) IndexFolder(ctx context.Context, folderURI string) error {
	e.mu.Lock()
	if e.folders[folderURI] {
		e.mu.Unlock()
		return nil
	}
	e.folders[folderURI] = true
	e.mu.Unlock()

	ctx, span := tracing.StartNewSpan(ctx, "index-folder", attribute.Key("folder").String(folderURI))
	defer span.End()

	var urls []string
	if isArchive(folderURI) {
		members, err := e.source.Members(folderURI, javaSuffix)
		if err != nil {
			return err
		}
		for _, m := range members {
			urls = append(urls, position.ArchiveURL(folderURI, m))
		}
	} else {
		files, err := e.source.Walk(ctx, folderURI, javaSuffix)
		if err != nil {
			return err
		}
		urls = files
	}

	indexed := 0
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := e.source.Read(ctx, url)
		if err != nil {
			e.log.V(3).Info("skipping unreadable file", "url", url, "error", err.Error())
			continue
		}
		tree, err := parse(ctx, nil, text)
		if err != nil {
			e.log.V(3).Info("skipping unparsable file", "url", url, "error", err.Error())
			continue
		}
		e.index.Add(extract(tree.RootNode(), text, url))
		tree.Close()
		indexed++
	}
	e.log.V(3).Info("indexed folder", "folder", folderURI, "files", indexed)
	return nil
}

func isArchive(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasSuffix(lower, ".jar") || strings.HasSuffix(lower, ".zip")
}

// diskURL drops the fragment scratch documents carry.
func diskURL(url string) string {
	if i := strings.Index(url, "#"); i >= 0 {
		return url[:i]
	}
	return url
}

func point(text []byte, offset int) sitter.Point {
	var p sitter.Point
	for _, b := range text[:offset] {
		if b == '\n' {
			p.Row++
			p.Column = 0
			continue
		}
		p.Column++
	}
	return p
}
