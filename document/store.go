// Package document keeps the in-memory mirror of every open document and the
// engine handle that backs it.
package document

import (
	"context"
	"sort"
	"sync"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/coordinator"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/metrics"
	"github.com/draftcode/ijaas/position"
	"github.com/go-logr/logr"
)

// OpenDocument is a snapshot of one open document. Text is never modified in
// place, so a snapshot stays valid after the store moves on.
type OpenDocument struct {
	URI     string
	Text    []byte
	Version int32
	Handle  analysis.Handle
}

// Change is one content change. A nil Range replaces the whole document.
type Change struct {
	Range *position.Range
	Text  string
}

// Refresher is told about every document whose content changed.
type Refresher interface {
	Refresh(uri string)
}

type RefresherFunc func(uri string)

func (f RefresherFunc) Refresh(uri string) { f(uri) }

type Store struct {
	log    logr.Logger
	engine analysis.Engine
	coord  coordinator.Coordinator

	mu        sync.Mutex
	docs      map[string]*OpenDocument
	refresher Refresher
}

func NewStore(log logr.Logger, engine analysis.Engine, coord coordinator.Coordinator) *Store {
	return &Store{
		log:    log.WithName("documents"),
		engine: engine,
		coord:  coord,
		docs:   map[string]*OpenDocument{},
	}
}

// SetRefresher installs the hook run after open, change and save.
func (s *Store) SetRefresher(r Refresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresher = r
}

func (s *Store) Coordinator() coordinator.Coordinator {
	return s.coord
}

func (s *Store) Engine() analysis.Engine {
	return s.engine
}

// Open parses text and registers it under uri. A document already open under
// uri is replaced.
func (s *Store) Open(ctx context.Context, uri string, version int32, text []byte) error {
	err := s.coord.RunExclusive(ctx, func(ctx context.Context) error {
		if old := s.remove(uri); old != nil {
			s.log.V(3).Info("replacing open document", "uri", uri, "oldVersion", old.Version)
			s.engine.Release(old.Handle)
		}
		h, err := s.engine.Parse(ctx, uri, text)
		if err != nil {
			return errdefs.Wrap(errdefs.AnalysisFailure, err, "parse %s", uri)
		}
		s.put(&OpenDocument{
			URI:     uri,
			Text:    append([]byte(nil), text...),
			Version: version,
			Handle:  h,
		})
		return nil
	})
	if err != nil {
		return err
	}
	s.log.V(5).Info("opened", "uri", uri, "version", version)
	s.refresh(uri)
	return nil
}

// ApplyChange applies changes in order. Each range is resolved against the
// text produced by the previous change. Nothing is applied if any range is
// invalid.
func (s *Store) ApplyChange(ctx context.Context, uri string, version int32, changes []Change) error {
	err := s.coord.RunExclusive(ctx, func(ctx context.Context) error {
		doc, err := s.Get(uri)
		if err != nil {
			return err
		}
		text := doc.Text
		edits := make([]analysis.Edit, 0, len(changes))
		for i, c := range changes {
			start, end := 0, len(text)
			if c.Range != nil {
				start, end, err = position.RangeToOffsets(text, *c.Range)
				if err != nil {
					return errdefs.Wrap(errdefs.ValidationError, err, "change %d of %s", i, uri)
				}
			}
			text = splice(text, start, end, c.Text)
			edits = append(edits, analysis.Edit{Start: start, End: end, Text: c.Text})
		}
		if err := s.engine.Reparse(ctx, doc.Handle, edits); err != nil {
			return errdefs.Wrap(errdefs.AnalysisFailure, err, "reparse %s", uri)
		}
		doc.Text = text
		doc.Version = version
		s.put(&doc)
		return nil
	})
	if err != nil {
		return err
	}
	s.refresh(uri)
	return nil
}

// Save reloads the document from backing storage.
func (s *Store) Save(ctx context.Context, uri string) error {
	err := s.coord.RunExclusive(ctx, func(ctx context.Context) error {
		doc, err := s.Get(uri)
		if err != nil {
			return err
		}
		text, err := s.engine.ReloadFromDisk(ctx, doc.Handle)
		if err != nil {
			return errdefs.Wrap(errdefs.IOFailure, err, "reload %s", uri)
		}
		doc.Text = text
		s.put(&doc)
		return nil
	})
	if err != nil {
		return err
	}
	s.refresh(uri)
	return nil
}

// Close releases the document. Closing an unknown URI does nothing.
func (s *Store) Close(ctx context.Context, uri string) error {
	return s.coord.RunExclusive(ctx, func(ctx context.Context) error {
		doc := s.remove(uri)
		if doc == nil {
			return nil
		}
		s.engine.Release(doc.Handle)
		s.log.V(5).Info("closed", "uri", uri)
		return nil
	})
}

// CloseAll releases every open document.
func (s *Store) CloseAll(ctx context.Context) error {
	return s.coord.RunExclusive(ctx, func(ctx context.Context) error {
		for _, uri := range s.URIs() {
			if doc := s.remove(uri); doc != nil {
				s.engine.Release(doc.Handle)
			}
		}
		return nil
	})
}

// Get returns a snapshot of the document without touching the engine.
func (s *Store) Get(uri string) (OpenDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		return OpenDocument{}, errdefs.NotFoundf("document %s is not open", uri)
	}
	return *doc, nil
}

// Snapshot is Get under shared access, so it never observes a document in
// the middle of an exclusive transaction.
func (s *Store) Snapshot(ctx context.Context, uri string) (OpenDocument, error) {
	var doc OpenDocument
	err := s.coord.RunShared(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.Get(uri)
		return err
	})
	return doc, err
}

func (s *Store) URIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

func (s *Store) put(doc *OpenDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.URI]; !ok {
		metrics.OpenDocuments.Inc()
	}
	s.docs[doc.URI] = doc
}

func (s *Store) remove(uri string) *OpenDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		return nil
	}
	delete(s.docs, uri)
	metrics.OpenDocuments.Dec()
	return doc
}

func (s *Store) refresh(uri string) {
	s.mu.Lock()
	r := s.refresher
	s.mu.Unlock()
	if r != nil {
		r.Refresh(uri)
	}
}

func splice(text []byte, start, end int, repl string) []byte {
	out := make([]byte, 0, len(text)-(end-start)+len(repl))
	out = append(out, text[:start]...)
	out = append(out, repl...)
	out = append(out, text[end:]...)
	return out
}
