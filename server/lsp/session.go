package lsp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/completion"
	"github.com/draftcode/ijaas/coordinator"
	"github.com/draftcode/ijaas/definition"
	"github.com/draftcode/ijaas/diagnostics"
	"github.com/draftcode/ijaas/document"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/handler"
	"github.com/draftcode/ijaas/metrics"
	"github.com/draftcode/ijaas/storage"
	"github.com/go-logr/logr"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// Workspace is what every session of a server shares.
type Workspace struct {
	Engine      analysis.Engine
	Coordinator coordinator.Coordinator
	Storage     storage.Storage
	// Folders are indexed when a session initializes, next to the roots the
	// client reports.
	Folders []string
}

type Options struct {
	Timeout            time.Duration
	HandlerWorkers     int
	DiagnosticsWorkers int
	EnabledRules       []string
	DisabledRules      []string
}

// Session is the per-connection state of the LSP server: its own document
// store, producers and method registry over the shared workspace.
type Session struct {
	id   string
	log  logr.Logger
	conn jsonrpc2.Conn
	ws   Workspace
	ctx  context.Context

	store       *document.Store
	completion  *completion.Producer
	definition  *definition.Producer
	diagnostics *diagnostics.Producer
	registry    *handler.Registry
	pool        *handler.Pool
	dispatcher  *handler.Dispatcher

	initialized atomic.Bool
	shutdown    atomic.Bool
	exit        chan struct{}
	exitOnce    sync.Once
	indexing    sync.WaitGroup
}

func NewSession(ctx context.Context, log logr.Logger, id string, conn jsonrpc2.Conn, ws Workspace, opts Options) *Session {
	log = log.WithValues("session", id)
	s := &Session{
		id:       id,
		log:      log,
		conn:     conn,
		ws:       ws,
		ctx:      ctx,
		registry: handler.NewRegistry(),
		exit:     make(chan struct{}),
	}
	s.store = document.NewStore(log, ws.Engine, ws.Coordinator)
	s.completion = completion.NewProducer(log, s.store)
	s.definition = definition.NewProducer(log, s.store, ws.Storage)

	diagOpts := []diagnostics.Option{
		diagnostics.WithPublisher(diagnostics.PublisherFunc(s.publish)),
		diagnostics.WithRules(opts.EnabledRules, opts.DisabledRules),
		diagnostics.WithTimeout(opts.Timeout),
	}
	if opts.DiagnosticsWorkers > 0 {
		diagOpts = append(diagOpts, diagnostics.WithWorkers(opts.DiagnosticsWorkers))
	}
	s.diagnostics = diagnostics.NewProducer(log, s.store, diagOpts...)
	s.store.SetRefresher(s.diagnostics)

	workers := opts.HandlerWorkers
	if workers <= 0 {
		workers = 1
	}
	s.pool = handler.NewPool(ctx, workers)
	s.dispatcher = handler.NewDispatcher(log, metrics.ProtocolLSP,
		handler.NewChainHandler(s.registry, handler.LogHandler(log)), s.pool, opts.Timeout)

	s.registry.Register(MethodInitialize, handler.Typed(s.initialize))
	s.registry.Register(MethodInitialized, handler.Typed(s.noop))
	s.registry.Register(MethodShutdown, handler.Typed(s.shutdownRequest))
	s.registry.Register(MethodExit, handler.Typed(s.exitNotification))
	s.registry.Register(MethodDidOpen, handler.Typed(s.didOpen))
	s.registry.Register(MethodDidChange, handler.Typed(s.didChange))
	s.registry.Register(MethodDidClose, handler.Typed(s.didClose))
	s.registry.Register(MethodDidSave, handler.Typed(s.didSave))
	s.registry.Register(MethodCompletion, handler.Typed(s.completionRequest))
	s.registry.Register(MethodDefinition, handler.Typed(s.definitionRequest))
	return s
}

// Handle is the jsonrpc2.Handler of the session. Messages are handled one at
// a time in arrival order, so edits are never reordered.
func (s *Session) Handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	method := req.Method()
	var id interface{}
	call, isCall := req.(*jsonrpc2.Call)
	if isCall {
		id = call.ID()
	}

	switch {
	case method == MethodExit:
	case !s.initialized.Load() && method != MethodInitialize:
		if !isCall {
			s.log.V(5).Info("dropping notification before initialize", "method", method)
			return nil
		}
		return reply(ctx, nil, jsonrpc2.NewError(codeServerNotInitialized, "server is not initialized"))
	case s.shutdown.Load():
		return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server is shutting down"))
	case !s.registry.Has(method):
		if !isCall {
			s.log.V(7).Info("ignoring notification", "method", method)
			return nil
		}
		return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.MethodNotFound, method+" is not found"))
	}

	result, err := s.dispatcher.Dispatch(ctx, &handler.Request{
		ID:     id,
		Method: method,
		Params: req.Params(),
	})
	if err != nil {
		if !isCall {
			s.log.Error(err, "notification failed", "method", method)
			return nil
		}
		s.log.V(3).Info("request failed", "id", id, "method", method, "error", err.Error())
	}
	return reply(ctx, result, toRPCError(err))
}

// Exited is closed once the client sent exit.
func (s *Session) Exited() <-chan struct{} {
	return s.exit
}

// Close stops the background work of the session and releases every
// document it still holds.
func (s *Session) Close() {
	s.dispatcher.CancelAll()
	s.diagnostics.Stop()
	s.indexing.Wait()
	if err := s.store.CloseAll(context.Background()); err != nil {
		s.log.Error(err, "failed to release documents")
	}
	s.pool.Stop()
}

func (s *Session) publish(ctx context.Context, uri string, version int32, diags []diagnostics.Diagnostic) error {
	return s.conn.Notify(ctx, MethodPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         protocol.DocumentURI(uri),
		Version:     uint32(version),
		Diagnostics: toDiagnostics(diags),
	})
}

func (s *Session) initialize(ctx context.Context, params initializeParams) (*protocol.InitializeResult, error) {
	if s.initialized.Load() {
		return nil, errdefs.Protocolf("initialize was already called")
	}
	if params.ClientInfo != nil {
		s.log.Info("initializing", "client", params.ClientInfo.Name, "version", params.ClientInfo.Version)
	}

	folders := append([]string(nil), s.ws.Folders...)
	if len(params.WorkspaceFolders) > 0 {
		for _, f := range params.WorkspaceFolders {
			folders = append(folders, f.URI)
		}
	} else if params.RootURI != "" {
		folders = append(folders, params.RootURI)
	}
	s.index(folders)

	s.initialized.Store(true)
	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindIncremental,
				Save:      &protocol.SaveOptions{},
			},
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{"."},
			},
			DefinitionProvider: true,
		},
		ServerInfo: &protocol.ServerInfo{
			Name: "ijaas",
		},
	}, nil
}

// index hands the folders to the engine in the background. Indexing runs
// outside the coordinator, so edits and requests are served while it runs.
func (s *Session) index(folders []string) {
	indexer, ok := s.ws.Engine.(analysis.WorkspaceIndexer)
	if !ok || len(folders) == 0 {
		return
	}
	s.indexing.Add(1)
	go func() {
		defer s.indexing.Done()
		for _, f := range folders {
			if err := indexer.IndexFolder(s.ctx, f); err != nil {
				s.log.Error(err, "failed to index workspace folder", "folder", f)
				continue
			}
			s.log.V(3).Info("indexed workspace folder", "folder", f)
		}
	}()
}

func (s *Session) noop(ctx context.Context, params interface{}) (interface{}, error) {
	return nil, nil
}

func (s *Session) shutdownRequest(ctx context.Context, params interface{}) (interface{}, error) {
	s.shutdown.Store(true)
	s.log.Info("shutdown requested")
	return nil, nil
}

func (s *Session) exitNotification(ctx context.Context, params interface{}) (interface{}, error) {
	s.exitOnce.Do(func() { close(s.exit) })
	return nil, nil
}

func (s *Session) didOpen(ctx context.Context, params protocol.DidOpenTextDocumentParams) (interface{}, error) {
	doc := params.TextDocument
	return nil, s.store.Open(ctx, string(doc.URI), doc.Version, []byte(doc.Text))
}

func (s *Session) didChange(ctx context.Context, params didChangeParams) (interface{}, error) {
	changes := make([]document.Change, 0, len(params.ContentChanges))
	for _, c := range params.ContentChanges {
		change := document.Change{Text: c.Text}
		if c.Range != nil {
			r := fromProtocolRange(*c.Range)
			change.Range = &r
		}
		changes = append(changes, change)
	}
	return nil, s.store.ApplyChange(ctx, string(params.TextDocument.URI), params.TextDocument.Version, changes)
}

func (s *Session) didClose(ctx context.Context, params protocol.DidCloseTextDocumentParams) (interface{}, error) {
	uri := string(params.TextDocument.URI)
	if err := s.store.Close(ctx, uri); err != nil {
		return nil, err
	}
	// Clear what the client still shows for the closed document.
	return nil, s.diagnostics.Clear(ctx, uri)
}

func (s *Session) didSave(ctx context.Context, params protocol.DidSaveTextDocumentParams) (interface{}, error) {
	return nil, s.store.Save(ctx, string(params.TextDocument.URI))
}

func (s *Session) completionRequest(ctx context.Context, params protocol.CompletionParams) (*protocol.CompletionList, error) {
	cs, err := s.completion.Complete(ctx, string(params.TextDocument.URI), fromProtocolPosition(params.Position))
	if err != nil {
		return nil, err
	}
	return toCompletionList(cs), nil
}

func (s *Session) definitionRequest(ctx context.Context, params protocol.DefinitionParams) ([]protocol.Location, error) {
	loc, err := s.definition.Definition(ctx, string(params.TextDocument.URI), fromProtocolPosition(params.Position))
	if err != nil {
		return nil, err
	}
	return []protocol.Location{toLocation(loc)}, nil
}
