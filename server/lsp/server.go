// Package lsp serves the Language Server Protocol front end over a socket or
// stdio. Every connection gets its own Session.
package lsp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/draftcode/ijaas/metrics"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.lsp.dev/jsonrpc2"
)

type Server struct {
	log  logr.Logger
	ws   Workspace
	opts Options

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

func NewServer(log logr.Logger, ws Workspace, opts Options) *Server {
	return &Server{
		log:  log.WithName("lsp"),
		ws:   ws,
		opts: opts,
	}
}

func (s *Server) Listen(addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.log.Info("listening", "address", l.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done. A failing connection never
// stops the listener.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("lsp server is not listening")
	}
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Error(err, "failed to accept connection")
				continue
			}
			s.wg.Wait()
			return err
		}
		s.log.V(3).Info("accepted connection", "remote", conn.RemoteAddr().String())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ServeConn(ctx, conn); err != nil {
				s.log.Error(err, "connection failed", "remote", conn.RemoteAddr().String())
			}
		}()
	}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// ServeStdio serves a single session over the process's standard streams.
func (s *Server) ServeStdio(ctx context.Context, stdin io.ReadCloser, stdout io.WriteCloser) error {
	s.log.V(3).Info("running in stdio mode")
	return s.ServeConn(ctx, NewStdio(stdin, stdout))
}

// ServeConn runs one session over rwc until the client exits, the stream
// fails or ctx is done.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := uuid.NewString()
	metrics.Connections.WithLabelValues(metrics.ProtocolLSP).Inc()
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	session := NewSession(ctx, s.log, id, conn, s.ws, s.opts)
	defer session.Close()
	conn.Go(ctx, session.Handle)

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-conn.Done()
		return nil
	case <-session.Exited():
		s.log.V(3).Info("client exited", "session", id)
		_ = conn.Close()
		<-conn.Done()
		return nil
	case <-conn.Done():
		if err := conn.Err(); err != nil && !isClosed(err) {
			return err
		}
		return nil
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(errors.Unwrap(err), io.EOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
