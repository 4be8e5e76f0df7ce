// Package definition resolves the declaration of the symbol at a position.
package definition

import (
	"context"
	"errors"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/document"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/position"
	"github.com/draftcode/ijaas/storage"
	"github.com/go-logr/logr"
)

type Location struct {
	URI   string
	Range position.Range
}

type Producer struct {
	log     logr.Logger
	store   *document.Store
	storage storage.Storage
}

func NewProducer(log logr.Logger, store *document.Store, st storage.Storage) *Producer {
	return &Producer{
		log:     log.WithName("definition"),
		store:   store,
		storage: st,
	}
}

// Definition returns the location of the declaration referenced at pos, or
// of the declaration containing pos when nothing is referenced there.
func (p *Producer) Definition(ctx context.Context, uri string, pos position.Position) (Location, error) {
	var loc Location
	err := p.store.Coordinator().RunShared(ctx, func(ctx context.Context) error {
		doc, err := p.store.Get(uri)
		if err != nil {
			return err
		}
		offset, err := position.PositionToOffset(doc.Text, pos)
		if err != nil {
			return errdefs.Wrap(errdefs.ValidationError, err, "definition position in %s", uri)
		}
		el, err := p.resolve(ctx, doc.Handle, offset)
		if err != nil {
			return err
		}
		target, err := p.targetBytes(ctx, el.URL)
		if err != nil {
			return err
		}
		at, err := position.OffsetToPosition(target, el.Offset)
		if err != nil {
			return errdefs.Wrap(errdefs.AnalysisFailure, err, "declaration %s in %s", el.Name, el.URL)
		}
		loc = Location{
			URI:   position.NormalizeArchiveURI(el.URL),
			Range: position.Point(at),
		}
		return nil
	})
	if err != nil {
		return Location{}, err
	}
	p.log.V(5).Info("resolved", "uri", uri, "position", pos.String(), "target", loc.URI)
	return loc, nil
}

func (p *Producer) resolve(ctx context.Context, h analysis.Handle, offset int) (analysis.Element, error) {
	eng := p.store.Engine()
	el, ok, err := eng.ResolveReferenceAt(ctx, h, offset)
	if err != nil {
		return analysis.Element{}, wrapEngine(err)
	}
	if ok {
		return el, nil
	}
	el, ok, err = eng.ElementAt(ctx, h, offset)
	if err != nil {
		return analysis.Element{}, wrapEngine(err)
	}
	if !ok {
		return analysis.Element{}, errdefs.NotFoundf("no declaration at offset %d", offset)
	}
	return el, nil
}

func (p *Producer) targetBytes(ctx context.Context, url string) ([]byte, error) {
	for _, candidate := range []string{url, position.NormalizeArchiveURI(url)} {
		if doc, err := p.store.Get(candidate); err == nil {
			return doc.Text, nil
		}
	}
	b, err := p.storage.Read(ctx, url)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IOFailure, err, "read definition target %s", url)
	}
	return b, nil
}

func wrapEngine(err error) error {
	if errdefs.KindOf(err) != errdefs.Unknown || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Wrap(errdefs.Timeout, err, "resolve definition")
	}
	return errdefs.Wrap(errdefs.AnalysisFailure, err, "resolve definition")
}
