// Package diagnostics runs the engine's inspections over open documents and
// publishes the findings.
package diagnostics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/document"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/metrics"
	"github.com/draftcode/ijaas/position"
	"github.com/draftcode/ijaas/tracing"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Severity int

const (
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
)

func (s Severity) String() string {
	if s == SeverityError {
		return "Error"
	}
	return "Warning"
}

type Diagnostic struct {
	Range    position.Range
	Severity Severity
	// Source is the name of the inspection that reported it.
	Source  string
	Message string
}

// Publisher delivers the complete set of diagnostics for a document. Every
// call replaces what was published before for the same URI.
type Publisher interface {
	Publish(ctx context.Context, uri string, version int32, diags []Diagnostic) error
}

type PublisherFunc func(ctx context.Context, uri string, version int32, diags []Diagnostic) error

func (f PublisherFunc) Publish(ctx context.Context, uri string, version int32, diags []Diagnostic) error {
	return f(ctx, uri, version, diags)
}

type Option func(*Producer)

func WithWorkers(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRules limits which inspections are reported. An empty enabled list
// allows every rule not in disabled.
func WithRules(enabled, disabled []string) Option {
	return func(p *Producer) {
		p.enabled = toSet(enabled)
		p.disabled = toSet(disabled)
	}
}

// WithTimeout bounds every background run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Producer) {
		p.timeout = d
	}
}

// WithPublisher sets where background refreshes publish to.
func WithPublisher(pub Publisher) Option {
	return func(p *Producer) {
		p.publisher = pub
	}
}

type Producer struct {
	log       logr.Logger
	store     *document.Store
	publisher Publisher
	workers   int
	timeout   time.Duration
	enabled   map[string]bool
	disabled  map[string]bool

	// Buffered channel the refresh workers are watching
	queue      chan string
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	states map[string]*refreshState

	// publishMu orders the version check and the send of one publish
	// against Clear. The coordinator is not held while sending.
	publishMu sync.Mutex
}

// refreshState tracks one URI between Refresh and the end of its run.
type refreshState struct {
	queued  bool
	running bool
	dirty   bool
}

func NewProducer(log logr.Logger, store *document.Store, opts ...Option) *Producer {
	ctx, cancelFunc := context.WithCancel(context.Background())
	p := &Producer{
		log:        log.WithName("diagnostics"),
		store:      store,
		workers:    2,
		queue:      make(chan string, 64),
		ctx:        ctx,
		cancelFunc: cancelFunc,
		states:     map[string]*refreshState{},
	}
	for _, o := range opts {
		o(p)
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.refreshWorker()
	}
	return p
}

// Stop cancels running refreshes and waits for the workers to exit.
func (p *Producer) Stop() {
	p.cancelFunc()
	p.wg.Wait()
}

// Refresh schedules a background run for uri and returns immediately. A
// Refresh for a URI that is already queued is merged into it; one for a URI
// being processed causes exactly one more run once the current one ends.
func (p *Producer) Refresh(uri string) {
	p.mu.Lock()
	st, ok := p.states[uri]
	if !ok {
		st = &refreshState{}
		p.states[uri] = st
	}
	switch {
	case st.queued:
		p.mu.Unlock()
		return
	case st.running:
		st.dirty = true
		p.mu.Unlock()
		return
	}
	st.queued = true
	p.mu.Unlock()
	p.enqueue(uri)
}

func (p *Producer) enqueue(uri string) {
	select {
	case p.queue <- uri:
	case <-p.ctx.Done():
	default:
		go func() {
			select {
			case p.queue <- uri:
			case <-p.ctx.Done():
			}
		}()
	}
}

func (p *Producer) refreshWorker() {
	defer p.wg.Done()
	for {
		select {
		case uri := <-p.queue:
			p.mu.Lock()
			st := p.states[uri]
			st.queued = false
			st.running = true
			p.mu.Unlock()

			p.run(uri)

			p.mu.Lock()
			st.running = false
			again := st.dirty
			st.dirty = false
			if again {
				st.queued = true
			} else {
				delete(p.states, uri)
			}
			p.mu.Unlock()
			if again {
				p.enqueue(uri)
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Producer) run(uri string) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	ctx, span := tracing.StartNewSpan(ctx, "diagnostics", attribute.Key("uri").String(uri))
	defer span.End()

	diags, version, err := p.compute(ctx, uri)
	if err != nil {
		if errdefs.IsNotFound(err) || errors.Is(err, context.Canceled) {
			p.log.V(5).Info("document went away before diagnostics ran", "uri", uri)
			metrics.DiagnosticsRuns.WithLabelValues("discarded").Inc()
			return
		}
		span.SetStatus(codes.Error, err.Error())
		p.log.Error(err, "diagnostics run failed", "uri", uri)
		metrics.DiagnosticsRuns.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}
	stale, err := p.publish(ctx, uri, version, diags)
	if err != nil {
		p.log.Error(err, "failed to publish diagnostics", "uri", uri)
		metrics.DiagnosticsRuns.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}
	if stale {
		p.log.V(5).Info("discarding stale diagnostics", "uri", uri, "version", version)
		metrics.DiagnosticsRuns.WithLabelValues("discarded").Inc()
		return
	}
	metrics.DiagnosticsRuns.WithLabelValues(metrics.OutcomeOK).Inc()
	p.log.V(5).Info("published diagnostics", "uri", uri, "version", version, "count", len(diags))
}

// publish sends diags unless uri was closed or changed after they were
// computed. Get is a map lookup, so no engine access is held while sending.
func (p *Producer) publish(ctx context.Context, uri string, version int32, diags []Diagnostic) (bool, error) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()
	if doc, err := p.store.Get(uri); err != nil || doc.Version != version {
		return true, nil
	}
	if p.publisher == nil {
		return false, nil
	}
	return false, p.publisher.Publish(ctx, uri, version, diags)
}

// Clear publishes an empty set for uri. Call it after the document was
// closed; a run that finished computing before the close is then either
// published before the clear or discarded.
func (p *Producer) Clear(ctx context.Context, uri string) error {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()
	if p.publisher == nil {
		return nil
	}
	return p.publisher.Publish(ctx, uri, 0, nil)
}

// Compute runs the inspections for uri synchronously.
func (p *Producer) Compute(ctx context.Context, uri string) ([]Diagnostic, error) {
	diags, _, err := p.compute(ctx, uri)
	return diags, err
}

func (p *Producer) compute(ctx context.Context, uri string) ([]Diagnostic, int32, error) {
	var out []Diagnostic
	var version int32
	err := p.store.Coordinator().RunShared(ctx, func(ctx context.Context) error {
		doc, err := p.store.Get(uri)
		if err != nil {
			return err
		}
		version = doc.Version
		findings, err := p.store.Engine().RunInspections(ctx, doc.Handle)
		if err != nil {
			if errdefs.KindOf(err) != errdefs.Unknown {
				return err
			}
			return errdefs.Wrap(errdefs.AnalysisFailure, err, "inspect %s", uri)
		}
		out = make([]Diagnostic, 0, len(findings))
		for _, f := range findings {
			if !p.allowed(f.Rule) {
				continue
			}
			out = append(out, Diagnostic{
				Range:    Range(doc.Text, f),
				Severity: SeverityOf(f.HighlightType),
				Source:   f.Rule,
				Message:  f.Message,
			})
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Range.Start.Before(out[j].Range.Start)
	})
	return out, version, nil
}

func (p *Producer) allowed(rule string) bool {
	if p.disabled[rule] {
		return false
	}
	return len(p.enabled) == 0 || p.enabled[rule]
}

// SeverityOf maps a highlight type onto a diagnostic severity.
func SeverityOf(highlightType string) Severity {
	switch highlightType {
	case analysis.HighlightError, analysis.HighlightGenericError, analysis.HighlightUnknownSymbol:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// Range computes the range of a finding in text. Annotation ranges win over
// text ranges; a missing end element reuses the start range and a finding
// without elements points at the start of the file.
func Range(text []byte, f analysis.Finding) position.Range {
	startRange := elementRange(f.Start)
	endRange := elementRange(f.End)
	if endRange == nil {
		endRange = startRange
	}
	if startRange == nil {
		return position.Range{}
	}
	start, err := position.OffsetToPosition(text, clamp(startRange.Start, len(text)))
	if err != nil {
		return position.Range{}
	}
	end, err := position.OffsetToPosition(text, clamp(endRange.End, len(text)))
	if err != nil {
		return position.Range{}
	}
	return position.Range{Start: start, End: end}
}

func elementRange(e *analysis.SourceElement) *analysis.TextRange {
	if e == nil {
		return nil
	}
	if e.AnnotationRange != nil {
		return e.AnnotationRange
	}
	r := e.TextRange
	return &r
}

func clamp(off, n int) int {
	if off < 0 {
		return 0
	}
	if off > n {
		return n
	}
	return off
}

func toSet(items []string) map[string]bool {
	out := map[string]bool{}
	for _, i := range items {
		out[i] = true
	}
	return out
}
