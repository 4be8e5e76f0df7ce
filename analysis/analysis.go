// Package analysis defines the boundary to the analysis engine. The engine
// owns parsing, resolution, completion and inspections; everything here is a
// plain description of what it hands back.
//
// Engine implementations are not safe for concurrent mutation. Callers go
// through a coordinator.Coordinator: Parse, Reparse, ReloadFromDisk and
// Release need exclusive access, CompleteAt needs the affine context and the
// remaining calls need shared access. IndexFolder is the exception; see
// WorkspaceIndexer.
package analysis

import (
	"context"
)

// Handle identifies one parsed document inside an engine. It is only valid
// until it is passed to Release.
type Handle int64

// Edit replaces the bytes [Start, End) of a document with Text.
type Edit struct {
	Start int
	End   int
	Text  string
}

type Engine interface {
	// Parse creates a document for url with the given content.
	Parse(ctx context.Context, url string, text []byte) (Handle, error)
	// Reparse applies edits in order; offsets of each edit are relative to
	// the text produced by the previous one.
	Reparse(ctx context.Context, h Handle, edits []Edit) error
	// ReloadFromDisk replaces the content of h with what backing storage
	// holds and returns the new content.
	ReloadFromDisk(ctx context.Context, h Handle) ([]byte, error)
	Release(h Handle)

	CompleteAt(ctx context.Context, h Handle, offset int) ([]Candidate, error)
	// ResolveReferenceAt returns the declaration referenced at offset.
	ResolveReferenceAt(ctx context.Context, h Handle, offset int) (Element, bool, error)
	// ElementAt returns the declaration that contains offset.
	ElementAt(ctx context.Context, h Handle, offset int) (Element, bool, error)
	RunInspections(ctx context.Context, h Handle) ([]Finding, error)
}

// ImportResolver is implemented by engines that can suggest imports for
// unresolved type names.
type ImportResolver interface {
	// ImportCandidates returns, for every unresolved name, the fully
	// qualified names it could be imported from.
	ImportCandidates(ctx context.Context, h Handle) ([][]string, error)
}

// WorkspaceIndexer is implemented by engines that resolve names across the
// files of a workspace folder. IndexFolder guards its own state and is called
// outside the coordinator, so it may run alongside any other operation.
type WorkspaceIndexer interface {
	IndexFolder(ctx context.Context, folderURI string) error
}

// CandidateKind is the classification the engine assigns to a completion
// candidate.
type CandidateKind int

const (
	KindOther CandidateKind = iota
	KindCallable
	KindKeyword
	KindType
	KindVariable
)

func (k CandidateKind) String() string {
	switch k {
	case KindCallable:
		return "callable"
	case KindKeyword:
		return "keyword"
	case KindType:
		return "type"
	case KindVariable:
		return "variable"
	default:
		return "other"
	}
}

type Param struct {
	Name string
	Type string
}

// Declaration describes the declaration a completion candidate points to.
type Declaration struct {
	Name       string
	TypeParams string
	ReturnType string
	Params     []Param
	Throws     []string
	DocComment string
}

// Candidate is a completion candidate as produced by the engine.
type Candidate struct {
	LookupString string
	Kind         CandidateKind
	// Category is the engine's own name for the kind of thing proposed.
	Category string
	// PrefixLength is the length of the identifier prefix already typed
	// before the completion offset.
	PrefixLength int
	TypeText     string
	TailText     string
	// Declaration is nil when the candidate does not resolve.
	Declaration *Declaration
}

// Element is a navigation target.
type Element struct {
	// URL of the containing file. Files inside archives use jar: URLs.
	URL    string
	Offset int
	Name   string
}

// Highlight types reported by inspections.
const (
	HighlightError             = "ERROR"
	HighlightGenericError      = "GENERIC_ERROR"
	HighlightUnknownSymbol     = "LIKE_UNKNOWN_SYMBOL"
	HighlightUnusedSymbol      = "LIKE_UNUSED_SYMBOL"
	HighlightWarning           = "WARNING"
	HighlightWeakWarning       = "WEAK_WARNING"
	HighlightInformation       = "INFORMATION"
	HighlightGenericServerWarn = "GENERIC_ERROR_OR_WARNING"
)

type TextRange struct {
	Start int
	End   int
}

// SourceElement is an element a finding points at. AnnotationRange, when
// set, narrows TextRange to the part worth highlighting.
type SourceElement struct {
	TextRange       TextRange
	AnnotationRange *TextRange
}

type Finding struct {
	Rule          string
	HighlightType string
	Message       string
	Start         *SourceElement
	End           *SourceElement
}
