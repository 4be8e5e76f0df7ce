package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/completion"
	"github.com/draftcode/ijaas/diagnostics"
	"github.com/draftcode/ijaas/document"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/storage"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

const (
	MethodEcho                    = "echo"
	MethodJavaComplete            = "java_complete"
	MethodJavaSrcUpdate           = "java_src_update"
	MethodJavaGetImportCandidates = "java_get_import_candidates"
)

// Completion kinds, as understood by Vim's complete-items.
const (
	CompletionVariable = "v"
	CompletionFunction = "f"
	CompletionType     = "t"
	CompletionKeyword  = "k"
)

// Problem types, as understood by Vim's quickfix list.
const (
	ProblemInfo    = "I"
	ProblemWarning = "W"
	ProblemError   = "E"
)

var problemOrder = map[string]int{
	ProblemError:   0,
	ProblemWarning: 1,
	ProblemInfo:    2,
}

// Echo returns its params unchanged.
var Echo = HandlerFunc(func(ctx context.Context, req *Request) (interface{}, error) {
	if len(req.Params) == 0 {
		return nil, nil
	}
	return req.Params, nil
})

type JavaCompleteRequest struct {
	File   string `json:"file"`
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

type JavaCompleteResponse struct {
	Completions []Completion `json:"completions"`
}

type Completion struct {
	Word string `json:"word"`
	Menu string `json:"menu"`
	Kind string `json:"kind"`
}

type JavaSrcUpdateRequest struct {
	File string `json:"file"`
}

type JavaSrcUpdateResponse struct {
	Problems []Problem `json:"problems"`
}

type Problem struct {
	Lnum int    `json:"lnum"`
	Text string `json:"text"`
	Type string `json:"type"`
}

type JavaGetImportCandidatesRequest struct {
	File string `json:"file"`
	Text string `json:"text"`
}

type JavaGetImportCandidatesResponse struct {
	Choices [][]string `json:"choices"`
}

// JavaHandlers serves the framed Java methods. Requests that carry their own
// text are analyzed as scratch documents that live only for the request.
type JavaHandlers struct {
	log         logr.Logger
	store       *document.Store
	completion  *completion.Producer
	diagnostics *diagnostics.Producer
	storage     storage.Storage
}

func NewJavaHandlers(log logr.Logger, store *document.Store, comp *completion.Producer, diags *diagnostics.Producer, st storage.Storage) *JavaHandlers {
	return &JavaHandlers{
		log:         log.WithName("java"),
		store:       store,
		completion:  comp,
		diagnostics: diags,
		storage:     st,
	}
}

func (j *JavaHandlers) Register(r *Registry) {
	r.Register(MethodEcho, Echo)
	r.Register(MethodJavaComplete, Typed(j.Complete))
	r.Register(MethodJavaSrcUpdate, Typed(j.SrcUpdate))
	r.Register(MethodJavaGetImportCandidates, Typed(j.ImportCandidates))
}

func (j *JavaHandlers) Complete(ctx context.Context, req JavaCompleteRequest) (*JavaCompleteResponse, error) {
	if req.File == "" {
		return nil, errdefs.Validationf("file is required")
	}
	if req.Offset < 0 || req.Offset > len(req.Text) {
		return nil, errdefs.Validationf("offset %d is outside of the text (length %d)", req.Offset, len(req.Text))
	}
	resp := &JavaCompleteResponse{Completions: []Completion{}}
	err := j.withScratch(ctx, req.File, req.Text, func(uri string) error {
		natives, err := j.completion.Natives(ctx, uri, func([]byte) (int, error) {
			return req.Offset, nil
		})
		if err != nil {
			return err
		}
		for _, n := range natives {
			resp.Completions = append(resp.Completions, vimCompletion(n))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(resp.Completions, func(a, b int) bool {
		ka := resp.Completions[a].Kind == CompletionKeyword
		kb := resp.Completions[b].Kind == CompletionKeyword
		if ka != kb {
			return kb
		}
		return resp.Completions[a].Word < resp.Completions[b].Word
	})
	return resp, nil
}

func vimCompletion(n analysis.Candidate) Completion {
	word := n.LookupString
	if n.PrefixLength > 0 && n.PrefixLength <= len(word) {
		word = word[n.PrefixLength:]
	}
	c := Completion{Word: word}
	switch n.Kind {
	case analysis.KindCallable:
		if n.Declaration != nil && len(n.Declaration.Params) == 0 {
			c.Word += "()"
		} else {
			c.Word += "("
		}
		c.Menu = n.TypeText + " - " + n.TailText
		c.Kind = CompletionFunction
	case analysis.KindKeyword:
		c.Kind = CompletionKeyword
	case analysis.KindType:
		c.Menu = n.TailText
		c.Kind = CompletionType
	case analysis.KindVariable:
		c.Menu = n.TypeText
		c.Kind = CompletionVariable
	default:
		c.Menu = n.Category
	}
	return c
}

// SrcUpdate reads file from disk and reports its problems. The content is
// analyzed under a private scratch URI, so documents open in the shared store
// are left alone.
func (j *JavaHandlers) SrcUpdate(ctx context.Context, req JavaSrcUpdateRequest) (*JavaSrcUpdateResponse, error) {
	if req.File == "" {
		return nil, errdefs.Validationf("file is required")
	}
	uri := j.storage.URI(req.File)
	text, err := j.storage.Read(ctx, uri)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, errdefs.Wrap(errdefs.NotFound, err, "cannot find the file %s", req.File)
		}
		return nil, err
	}

	var diags []diagnostics.Diagnostic
	err = j.withScratch(ctx, req.File, string(text), func(scratch string) error {
		var err error
		diags, err = j.diagnostics.Compute(ctx, scratch)
		return err
	})
	if err != nil {
		return nil, err
	}

	resp := &JavaSrcUpdateResponse{Problems: []Problem{}}
	for _, d := range diags {
		resp.Problems = append(resp.Problems, Problem{
			Lnum: d.Range.Start.Line + 1,
			Text: d.Message,
			Type: problemType(d.Severity),
		})
	}
	sort.SliceStable(resp.Problems, func(a, b int) bool {
		pa, pb := resp.Problems[a], resp.Problems[b]
		if problemOrder[pa.Type] != problemOrder[pb.Type] {
			return problemOrder[pa.Type] < problemOrder[pb.Type]
		}
		if pa.Lnum != pb.Lnum {
			return pa.Lnum < pb.Lnum
		}
		return pa.Text < pb.Text
	})
	return resp, nil
}

func problemType(s diagnostics.Severity) string {
	if s == diagnostics.SeverityError {
		return ProblemError
	}
	return ProblemWarning
}

// ImportCandidates lists, for every unresolved type name in text, the imports
// that would resolve it.
func (j *JavaHandlers) ImportCandidates(ctx context.Context, req JavaGetImportCandidatesRequest) (*JavaGetImportCandidatesResponse, error) {
	if req.File == "" {
		return nil, errdefs.Validationf("file is required")
	}
	resp := &JavaGetImportCandidatesResponse{Choices: [][]string{}}
	resolver, ok := j.store.Engine().(analysis.ImportResolver)
	if !ok {
		j.log.V(3).Info("engine cannot resolve imports")
		return resp, nil
	}
	err := j.withScratch(ctx, req.File, req.Text, func(uri string) error {
		return j.store.Coordinator().RunShared(ctx, func(ctx context.Context) error {
			doc, err := j.store.Get(uri)
			if err != nil {
				return err
			}
			groups, err := resolver.ImportCandidates(ctx, doc.Handle)
			if err != nil {
				return errdefs.Wrap(errdefs.AnalysisFailure, err, "import candidates for %s", req.File)
			}
			for _, names := range groups {
				choices := importChoices(names)
				if len(choices) > 0 {
					resp.Choices = append(resp.Choices, choices)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func importChoices(names []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, n := range names {
		s := fmt.Sprintf("import %s;", n)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (j *JavaHandlers) withScratch(ctx context.Context, file, text string, fn func(uri string) error) error {
	uri := j.storage.URI(file) + "#" + uuid.NewString()
	if err := j.store.Open(ctx, uri, 0, []byte(text)); err != nil {
		return err
	}
	defer j.closeScratch(ctx, uri)
	return fn(uri)
}

func (j *JavaHandlers) closeScratch(ctx context.Context, uri string) {
	if err := j.store.Close(context.WithoutCancel(ctx), uri); err != nil {
		j.log.Error(err, "failed to close scratch document", "uri", uri)
	}
}
