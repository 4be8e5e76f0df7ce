// Package analysistest provides an in-memory analysis.Engine for tests.
package analysistest

import (
	"context"
	"fmt"
	"sync"

	"github.com/draftcode/ijaas/analysis"
)

// Engine keeps document text per handle and delegates every analysis call to
// the optional hooks. Unset hooks return empty results.
type Engine struct {
	// Disk is what ReloadFromDisk returns, keyed by URL.
	Disk map[string][]byte

	CompleteFn func(ctx context.Context, url string, text []byte, offset int) ([]analysis.Candidate, error)
	ResolveFn  func(ctx context.Context, url string, text []byte, offset int) (analysis.Element, bool, error)
	ElementFn  func(ctx context.Context, url string, text []byte, offset int) (analysis.Element, bool, error)
	InspectFn  func(ctx context.Context, url string, text []byte) ([]analysis.Finding, error)
	ImportsFn  func(ctx context.Context, url string, text []byte) ([][]string, error)
	IndexFn    func(ctx context.Context, folderURI string) error
	ParseErr   error
	ReparseErr error

	mu       sync.Mutex
	next     analysis.Handle
	docs     map[analysis.Handle]*doc
	released []analysis.Handle
	indexed  []string
}

type doc struct {
	url  string
	text []byte
}

var _ analysis.Engine = &Engine{}
var _ analysis.ImportResolver = &Engine{}
var _ analysis.WorkspaceIndexer = &Engine{}

func (e *Engine) Parse(ctx context.Context, url string, text []byte) (analysis.Handle, error) {
	if e.ParseErr != nil {
		return 0, e.ParseErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.docs == nil {
		e.docs = map[analysis.Handle]*doc{}
	}
	e.next++
	e.docs[e.next] = &doc{url: url, text: append([]byte(nil), text...)}
	return e.next, nil
}

func (e *Engine) Reparse(ctx context.Context, h analysis.Handle, edits []analysis.Edit) error {
	if e.ReparseErr != nil {
		return e.ReparseErr
	}
	d, err := e.get(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ed := range edits {
		if ed.Start < 0 || ed.End > len(d.text) || ed.Start > ed.End {
			return fmt.Errorf("edit [%d, %d) out of range", ed.Start, ed.End)
		}
		text := append([]byte(nil), d.text[:ed.Start]...)
		text = append(text, ed.Text...)
		d.text = append(text, d.text[ed.End:]...)
	}
	return nil
}

func (e *Engine) ReloadFromDisk(ctx context.Context, h analysis.Handle) ([]byte, error) {
	d, err := e.get(h)
	if err != nil {
		return nil, err
	}
	b, ok := e.Disk[d.url]
	if !ok {
		return nil, fmt.Errorf("%s is not on disk", d.url)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d.text = append([]byte(nil), b...)
	return append([]byte(nil), b...), nil
}

func (e *Engine) Release(h analysis.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.docs, h)
	e.released = append(e.released, h)
}

func (e *Engine) CompleteAt(ctx context.Context, h analysis.Handle, offset int) ([]analysis.Candidate, error) {
	d, err := e.get(h)
	if err != nil || e.CompleteFn == nil {
		return nil, err
	}
	return e.CompleteFn(ctx, d.url, e.Text(h), offset)
}

func (e *Engine) ResolveReferenceAt(ctx context.Context, h analysis.Handle, offset int) (analysis.Element, bool, error) {
	d, err := e.get(h)
	if err != nil || e.ResolveFn == nil {
		return analysis.Element{}, false, err
	}
	return e.ResolveFn(ctx, d.url, e.Text(h), offset)
}

func (e *Engine) ElementAt(ctx context.Context, h analysis.Handle, offset int) (analysis.Element, bool, error) {
	d, err := e.get(h)
	if err != nil || e.ElementFn == nil {
		return analysis.Element{}, false, err
	}
	return e.ElementFn(ctx, d.url, e.Text(h), offset)
}

func (e *Engine) RunInspections(ctx context.Context, h analysis.Handle) ([]analysis.Finding, error) {
	d, err := e.get(h)
	if err != nil || e.InspectFn == nil {
		return nil, err
	}
	return e.InspectFn(ctx, d.url, e.Text(h))
}

func (e *Engine) ImportCandidates(ctx context.Context, h analysis.Handle) ([][]string, error) {
	d, err := e.get(h)
	if err != nil || e.ImportsFn == nil {
		return nil, err
	}
	return e.ImportsFn(ctx, d.url, e.Text(h))
}

func (e *Engine) IndexFolder(ctx context.Context, folderURI string) error {
	e.mu.Lock()
	e.indexed = append(e.indexed, folderURI)
	e.mu.Unlock()
	if e.IndexFn == nil {
		return nil
	}
	return e.IndexFn(ctx, folderURI)
}

// Indexed lists the folders passed to IndexFolder, in call order.
func (e *Engine) Indexed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.indexed...)
}

// Text returns the engine-side content of h.
func (e *Engine) Text(h analysis.Handle) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.docs[h]; ok {
		return append([]byte(nil), d.text...)
	}
	return nil
}

// Live returns the number of unreleased handles.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.docs)
}

func (e *Engine) Released() []analysis.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]analysis.Handle(nil), e.released...)
}

func (e *Engine) get(h analysis.Handle) (*doc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.docs[h]
	if !ok {
		return nil, fmt.Errorf("handle %d is not live", h)
	}
	return d, nil
}
