package framed

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Stream reads and writes the top-level JSON values of one connection. Values
// are not delimited; each one ends where the JSON value ends.
type Stream interface {
	// Read returns the next complete value.
	Read(ctx context.Context) (json.RawMessage, error)
	// Write sends one value and flushes it.
	Write(ctx context.Context, v interface{}) error
	// Close closes the underlying connection.
	Close() error
}

type stream struct {
	conn io.ReadWriteCloser
	in   *json.Decoder

	outMu sync.Mutex
	out   *bufio.Writer
}

// NewStream returns a Stream over rwc.
func NewStream(rwc io.ReadWriteCloser) Stream {
	return &stream{
		conn: rwc,
		in:   json.NewDecoder(bufio.NewReader(rwc)),
		out:  bufio.NewWriter(rwc),
	}
}

func (s *stream) Read(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	var raw json.RawMessage
	if err := s.in.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *stream) Write(ctx context.Context, v interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *stream) Close() error {
	return s.conn.Close()
}
