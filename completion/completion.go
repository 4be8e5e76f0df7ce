// Package completion turns the engine's native completion candidates into
// ordered, protocol-neutral completion items.
package completion

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/document"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/position"
	"github.com/go-logr/logr"
)

type Kind int

const (
	KindOther Kind = iota
	KindMethod
	KindKeyword
	KindClass
	KindVariable
)

func (k Kind) String() string {
	switch k {
	case KindMethod:
		return "Method"
	case KindKeyword:
		return "Keyword"
	case KindClass:
		return "Class"
	case KindVariable:
		return "Variable"
	default:
		return "Other"
	}
}

type Candidate struct {
	Label         string
	InsertText    string
	Kind          Kind
	Detail        string
	Documentation string
}

type Producer struct {
	log   logr.Logger
	store *document.Store
}

func NewProducer(log logr.Logger, store *document.Store) *Producer {
	return &Producer{
		log:   log.WithName("completion"),
		store: store,
	}
}

// Complete returns the completion items for pos in the open document uri.
func (p *Producer) Complete(ctx context.Context, uri string, pos position.Position) ([]Candidate, error) {
	natives, err := p.Natives(ctx, uri, func(text []byte) (int, error) {
		return position.PositionToOffset(text, pos)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(natives))
	for _, n := range natives {
		out = append(out, Map(n))
	}
	Sort(out)
	p.log.V(5).Info("completed", "uri", uri, "position", pos.String(), "items", len(out))
	return out, nil
}

// Natives runs the engine's completion for the open document uri at the
// offset computed by locate over the document's current text. Candidates
// without a resolvable declaration are dropped.
func (p *Producer) Natives(ctx context.Context, uri string, locate func(text []byte) (int, error)) ([]analysis.Candidate, error) {
	if _, err := p.store.Get(uri); err != nil {
		return nil, err
	}
	coord := p.store.Coordinator()

	var doc document.OpenDocument
	var offset int
	err := coord.RunShared(ctx, func(ctx context.Context) error {
		var err error
		doc, err = p.store.Get(uri)
		if err != nil {
			return err
		}
		offset, err = locate(doc.Text)
		if err != nil {
			return errdefs.Wrap(errdefs.ValidationError, err, "completion position in %s", uri)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var natives []analysis.Candidate
	err = coord.RunAffine(ctx, func(ctx context.Context) error {
		cur, err := p.store.Get(uri)
		if err != nil {
			return errdefs.NotFoundf("document %s was closed during completion", uri)
		}
		// An edit may land between the two steps; the offset must match
		// the text the engine completes over.
		if cur.Handle != doc.Handle || cur.Version != doc.Version {
			offset, err = locate(cur.Text)
			if err != nil {
				return errdefs.Wrap(errdefs.ValidationError, err, "completion position in %s", uri)
			}
		}
		natives, err = p.store.Engine().CompleteAt(ctx, cur.Handle, offset)
		return err
	})
	if err != nil {
		return nil, engineErr(err, "complete %s", uri)
	}

	out := natives[:0]
	for _, n := range natives {
		if n.Declaration == nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Map converts one native candidate.
func Map(n analysis.Candidate) Candidate {
	c := Candidate{
		Label:      n.LookupString,
		InsertText: n.LookupString,
	}
	switch n.Kind {
	case analysis.KindCallable:
		c.Kind = KindMethod
		c.Label, c.InsertText, c.Detail = callable(n)
		if n.Declaration != nil {
			c.Documentation = StripDocComment(n.Declaration.DocComment)
		}
	case analysis.KindKeyword:
		c.Kind = KindKeyword
	case analysis.KindType:
		c.Kind = KindClass
		c.Detail = n.TailText
	case analysis.KindVariable:
		c.Kind = KindVariable
		c.Detail = n.TypeText
	default:
		c.Kind = KindOther
		c.Detail = n.Category
	}
	return c
}

func callable(n analysis.Candidate) (label, insert, detail string) {
	d := n.Declaration
	if d == nil {
		return n.LookupString, n.LookupString + "()", n.TypeText
	}
	names := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		names = append(names, p.Name)
	}
	params := strings.Join(names, ", ")

	label = n.LookupString + "(" + params + ")"
	if len(d.Params) == 0 {
		insert = n.LookupString + "()"
	} else {
		insert = n.LookupString + "("
	}

	var b strings.Builder
	if d.TypeParams != "" {
		b.WriteString(d.TypeParams)
		b.WriteByte(' ')
	}
	b.WriteString(d.ReturnType)
	b.WriteByte(' ')
	b.WriteString(d.Name)
	b.WriteString("(" + params + ")")
	if len(d.Throws) > 0 {
		b.WriteString(" throws ")
		b.WriteString(strings.Join(d.Throws, ", "))
	}
	return label, insert, b.String()
}

// StripDocComment removes the /** */ delimiters and the leading asterisks of
// a Javadoc comment.
func StripDocComment(doc string) string {
	doc = strings.TrimSpace(doc)
	doc = strings.TrimPrefix(doc, "/**")
	doc = strings.TrimSuffix(doc, "*/")
	lines := strings.Split(doc, "\n")
	for i, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "*")
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Sort orders keywords after everything else, then by label.
func Sort(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		ki, kj := cs[i].Kind == KindKeyword, cs[j].Kind == KindKeyword
		if ki != kj {
			return kj
		}
		return cs[i].Label < cs[j].Label
	})
}

func engineErr(err error, format string, args ...interface{}) error {
	switch {
	case errdefs.KindOf(err) != errdefs.Unknown:
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errdefs.Wrap(errdefs.Timeout, err, format, args...)
	case errors.Is(err, context.Canceled):
		return err
	}
	return errdefs.Wrap(errdefs.AnalysisFailure, err, format, args...)
}
