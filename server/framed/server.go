// Package framed serves the array-framed request protocol used by the editor
// plugins: a stream of [id, {method, params}] values over loopback TCP.
package framed

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/draftcode/ijaas/handler"
	"github.com/draftcode/ijaas/metrics"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

const DefaultPort = 5800

type Server struct {
	log        logr.Logger
	dispatcher *handler.Dispatcher

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]Stream
	wg       sync.WaitGroup
}

func NewServer(log logr.Logger, d *handler.Dispatcher) *Server {
	return &Server{
		log:        log.WithName("framed"),
		dispatcher: d,
		conns:      map[string]Stream{},
	}
}

// Listen binds addr. It is split from Serve so callers know the port is
// taken before serving starts.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
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

// Serve accepts connections until ctx is done, then closes every open
// connection and waits for them to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("framed server is not listening")
	}

	go func() {
		<-ctx.Done()
		l.Close()
		s.closeConns()
	}()

	for {
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.wg.Wait()
			return err
		}
		metrics.Connections.WithLabelValues(metrics.ProtocolFramed).Inc()
		id := uuid.NewString()
		stream := NewStream(nc)
		s.track(id, stream)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(id)
			conn := NewConn(s.log, id, stream, s.dispatcher)
			if err := conn.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error(err, "connection closed", "conn", id, "remote", nc.RemoteAddr().String())
			}
		}()
	}
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) track(id string, st Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = st
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.conns {
		st.Close()
	}
}
