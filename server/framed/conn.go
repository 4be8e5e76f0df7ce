package framed

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/handler"
	"github.com/go-logr/logr"
)

// Conn serves the requests of one client connection, one at a time and in
// arrival order.
type Conn struct {
	id         string
	stream     Stream
	dispatcher *handler.Dispatcher
	log        logr.Logger
}

type request struct {
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	Result interface{} `json:"result,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Cause string `json:"cause"`
}

func NewConn(log logr.Logger, id string, s Stream, d *handler.Dispatcher) *Conn {
	return &Conn{
		id:         id,
		stream:     s,
		dispatcher: d,
		log:        log.WithValues("conn", id),
	}
}

// Run blocks until the client goes away or sends something that is not a
// request frame. A clean EOF returns nil.
// It must be called exactly once for each Conn.
func (c *Conn) Run(ctx context.Context) error {
	c.log.V(5).Info("starting to serve framed connection")
	defer c.stream.Close()
	for {
		data, err := c.stream.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.V(5).Info("client closed connection")
				return nil
			}
			return err
		}
		id, req, err := decodeFrame(data)
		if err != nil {
			return err
		}

		var payload interface{}
		result, err := c.handle(ctx, id, req)
		if err != nil {
			c.log.V(3).Info("request failed", "id", id, "error", err.Error())
			payload = errorResponse{Error: err.Error(), Cause: errdefs.Cause(err)}
		} else {
			payload = response{Result: result}
		}
		if err := c.stream.Write(ctx, []interface{}{id, payload}); err != nil {
			return err
		}
	}
}

func (c *Conn) handle(ctx context.Context, id int64, req *request) (interface{}, error) {
	if req == nil || req.Method == nil || *req.Method == "" {
		return nil, errdefs.Validationf("method is required")
	}
	return c.dispatcher.Dispatch(ctx, &handler.Request{
		ID:     id,
		Method: *req.Method,
		Params: req.Params,
	})
}

// decodeFrame splits [id, {method, params}]. A null payload decodes to a nil
// request.
func decodeFrame(data json.RawMessage) (int64, *request, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return 0, nil, errdefs.Wrap(errdefs.ProtocolError, err, "frame is not an array")
	}
	if len(frame) < 2 {
		return 0, nil, errdefs.Protocolf("frame has %d elements, want [id, request]", len(frame))
	}
	var id int64
	if err := json.Unmarshal(frame[0], &id); err != nil {
		return 0, nil, errdefs.Wrap(errdefs.ProtocolError, err, "frame id")
	}
	var req *request
	if err := json.Unmarshal(frame[1], &req); err != nil {
		return 0, nil, errdefs.Wrap(errdefs.ProtocolError, err, "frame request")
	}
	return id, req, nil
}
