package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/draftcode/ijaas/analysis"
	"github.com/draftcode/ijaas/analysis/javats"
	"github.com/draftcode/ijaas/completion"
	"github.com/draftcode/ijaas/config"
	"github.com/draftcode/ijaas/coordinator"
	"github.com/draftcode/ijaas/diagnostics"
	"github.com/draftcode/ijaas/document"
	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/handler"
	"github.com/draftcode/ijaas/metrics"
	"github.com/draftcode/ijaas/server/framed"
	"github.com/draftcode/ijaas/server/lsp"
	"github.com/draftcode/ijaas/storage"
	"github.com/draftcode/ijaas/tracing"
	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// loadSettings reads the settings file, then the environment, then the flags
// that were set explicitly.
func loadSettings(flags *pflag.FlagSet) (config.Settings, error) {
	s, err := config.Load(settingsFile)
	if err != nil {
		return s, err
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return s, err
	}
	if flags.Changed("host") {
		s.Host = host
	}
	if flags.Changed("port") {
		s.Port = port
	}
	if flags.Changed("lsp-port") {
		s.LSPPort = lspPort
	}
	if flags.Changed("request-timeout") {
		d, err := time.ParseDuration(requestTimeout)
		if err != nil {
			return s, errdefs.Wrap(errdefs.ValidationError, err, "--request-timeout")
		}
		s.RequestTimeout = d
	}
	if flags.Changed("metrics-address") {
		s.MetricsAddress = metricsAddress
	}
	if flags.Changed("enable-jaeger") {
		s.Tracing.EnableJaeger = enableJaeger
	}
	if flags.Changed("jaeger-endpoint") || s.Tracing.JaegerEndpoint == "" {
		s.Tracing.JaegerEndpoint = jaegerEndpoint
	}
	if flags.Changed("source-encoding") {
		s.SourceEncoding = sourceEncoding
	}
	s.WorkspaceFolders = append(s.WorkspaceFolders, workspaceFolders...)
	s.SourceArchives = append(s.SourceArchives, sourceArchives...)
	s.DisabledInspections = append(s.DisabledInspections, disableInspections...)
	return s, s.Validate()
}

func run(ctx context.Context, log logr.Logger, s config.Settings) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(log, tracing.Options{
		EnableJaeger:   s.Tracing.EnableJaeger,
		JaegerEndpoint: s.Tracing.JaegerEndpoint,
		ServiceName:    s.Tracing.ServiceName,
		Version:        version,
		HTTPProxy:      s.Tracing.HTTPProxy,
		NoProxy:        s.Tracing.NoProxy,
	})
	if err != nil {
		return err
	}
	defer tracing.Shutdown(context.Background(), log, tp)

	enc, err := storage.EncodingFromName(s.SourceEncoding)
	if err != nil {
		return err
	}
	fs := storage.NewFS(log, storage.WithEncoding(enc))
	defer fs.Close()
	engine := javats.New(log, fs)
	lock := coordinator.New(log)
	defer lock.Close()

	var folders []string
	for _, f := range append(append([]string{}, s.WorkspaceFolders...), s.SourceArchives...) {
		path, err := filepath.Abs(f)
		if err != nil {
			return errdefs.Wrap(errdefs.ValidationError, err, "workspace folder %s", f)
		}
		folders = append(folders, fs.URI(path))
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.MetricsAddress != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, log, s.MetricsAddress)
		})
	}
	g.Go(func() error {
		indexFolders(ctx, log, engine, folders)
		return nil
	})

	withFramed := protocol != protocolLSP
	withLSP := protocol != protocolFramed
	if withFramed {
		srv, cleanup := newFramedServer(ctx, log, engine, lock, fs, s)
		defer cleanup()
		if err := srv.Listen(s.FramedAddress()); err != nil {
			stop()
			g.Wait()
			return err
		}
		log.Info("serving framed protocol", "address", srv.Addr().String())
		g.Go(func() error {
			return srv.Serve(ctx)
		})
	}
	if withLSP {
		srv := lsp.NewServer(log, lsp.Workspace{
			Engine:      engine,
			Coordinator: lock,
			Storage:     fs,
			Folders:     folders,
		}, lsp.Options{
			Timeout:            s.RequestTimeout,
			HandlerWorkers:     s.HandlerWorkers,
			DiagnosticsWorkers: s.DiagnosticsWorkers,
			EnabledRules:       s.EnabledInspections,
			DisabledRules:      s.DisabledInspections,
		})
		switch {
		case stdio:
			g.Go(func() error {
				err := srv.ServeStdio(ctx, os.Stdin, os.Stdout)
				// Nothing is left to serve once the editor goes away.
				stop()
				return err
			})
		default:
			if err := srv.Listen(s.LSPAddress(withFramed)); err != nil {
				stop()
				g.Wait()
				return err
			}
			log.Info("serving lsp", "address", srv.Addr().String())
			g.Go(func() error {
				return srv.Serve(ctx)
			})
		}
	}
	return g.Wait()
}

// indexFolders indexes the configured folders one at a time. Failures are
// logged and the folder is skipped.
func indexFolders(ctx context.Context, log logr.Logger, engine analysis.WorkspaceIndexer, folders []string) {
	for _, folder := range folders {
		started := time.Now()
		err := engine.IndexFolder(ctx, folder)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error(err, "failed to index folder", "folder", folder)
			continue
		}
		log.V(3).Info("indexed", "folder", folder, "took", time.Since(started).String())
	}
}

// newFramedServer builds the framed protocol stack over the shared engine.
// The returned func releases it once the server stopped.
func newFramedServer(ctx context.Context, log logr.Logger, engine analysis.Engine, coord coordinator.Coordinator, st storage.Storage, s config.Settings) (*framed.Server, func()) {
	log = log.WithName("framed")
	store := document.NewStore(log, engine, coord)
	comp := completion.NewProducer(log, store)
	diags := diagnostics.NewProducer(log, store,
		diagnostics.WithWorkers(s.DiagnosticsWorkers),
		diagnostics.WithRules(s.EnabledInspections, s.DisabledInspections),
		diagnostics.WithTimeout(s.RequestTimeout),
	)

	registry := handler.NewRegistry()
	handler.NewJavaHandlers(log, store, comp, diags, st).Register(registry)
	pool := handler.NewPool(ctx, s.HandlerWorkers)
	dispatcher := handler.NewDispatcher(log, metrics.ProtocolFramed,
		handler.NewChainHandler(registry, handler.LogHandler(log)), pool, s.RequestTimeout)

	return framed.NewServer(log, dispatcher), func() {
		pool.Stop()
		diags.Stop()
		if err := store.CloseAll(context.Background()); err != nil {
			log.Error(err, "failed to close documents")
		}
	}
}
