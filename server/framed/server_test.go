package framed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/handler"
	"github.com/draftcode/ijaas/metrics"
	"github.com/go-logr/logr/testr"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	conn net.Conn
	dec  *json.Decoder
}

func (c *client) send(t *testing.T, raw string) {
	t.Helper()
	_, err := c.conn.Write([]byte(raw))
	require.NoError(t, err)
}

func (c *client) recv(t *testing.T) (int64, map[string]json.RawMessage) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame []json.RawMessage
	require.NoError(t, c.dec.Decode(&frame))
	require.Len(t, frame, 2)
	var id int64
	require.NoError(t, json.Unmarshal(frame[0], &id))
	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(frame[1], &payload))
	return id, payload
}

func startServer(t *testing.T, timeout time.Duration, register func(r *handler.Registry)) (*Server, string) {
	t.Helper()
	log := testr.New(t)
	r := handler.NewRegistry()
	r.Register("echo", handler.Echo)
	if register != nil {
		register(r)
	}
	pool := handler.NewPool(context.Background(), 4)
	t.Cleanup(pool.Stop)
	s := NewServer(log, handler.NewDispatcher(log, metrics.ProtocolFramed, r, pool, timeout))

	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	require.NoError(t, s.Listen(addr))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s, addr
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, dec: json.NewDecoder(bufio.NewReader(conn))}
}

func TestEcho(t *testing.T) {
	_, addr := startServer(t, time.Second, nil)
	c := dial(t, addr)

	// Several values back to back, without separators.
	c.send(t, `[1, {"method":"echo","params":{"a":[1,2]}}][2,{"method":"echo","params":"x"}]`)
	id, payload := c.recv(t)
	assert.Equal(t, int64(1), id)
	assert.JSONEq(t, `{"a":[1,2]}`, string(payload["result"]))
	id, payload = c.recv(t)
	assert.Equal(t, int64(2), id)
	assert.JSONEq(t, `"x"`, string(payload["result"]))
}

func TestErrors(t *testing.T) {
	_, addr := startServer(t, time.Second, func(r *handler.Registry) {
		r.Register("fail", handler.HandlerFunc(func(ctx context.Context, req *handler.Request) (interface{}, error) {
			return nil, errdefs.Wrap(errdefs.IOFailure, fmt.Errorf("disk gone"), "read A.java")
		}))
	})
	c := dial(t, addr)

	tests := []struct {
		name      string
		frame     string
		wantError string
		wantCause string
	}{
		{name: "unknown method", frame: `[3, {"method":"nope"}]`, wantError: "nope is not found"},
		{name: "missing method", frame: `[4, {"params":{}}]`, wantError: "method is required"},
		{name: "null request", frame: `[5, null]`, wantError: "method is required"},
		{name: "handler error", frame: `[6, {"method":"fail"}]`, wantError: "read A.java: disk gone", wantCause: "caused by: *errors.errorString: disk gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.send(t, tt.frame)
			_, payload := c.recv(t)
			var msg string
			require.NoError(t, json.Unmarshal(payload["error"], &msg))
			assert.Equal(t, tt.wantError, msg)
			var cause string
			require.NoError(t, json.Unmarshal(payload["cause"], &cause))
			assert.Contains(t, cause, tt.wantCause)
			assert.NotContains(t, payload, "result")
		})
	}

	// Handler errors leave the connection usable.
	c.send(t, `[7, {"method":"echo","params":1}]`)
	id, payload := c.recv(t)
	assert.Equal(t, int64(7), id)
	assert.JSONEq(t, `1`, string(payload["result"]))
}

func TestTimeoutKeepsConnection(t *testing.T) {
	release := make(chan struct{})
	_, addr := startServer(t, 30*time.Millisecond, func(r *handler.Registry) {
		r.Register("slow", handler.HandlerFunc(func(ctx context.Context, req *handler.Request) (interface{}, error) {
			<-release
			return "late", nil
		}))
	})
	defer close(release)
	c := dial(t, addr)

	c.send(t, `[1, {"method":"slow"}]`)
	id, payload := c.recv(t)
	assert.Equal(t, int64(1), id)
	var msg string
	require.NoError(t, json.Unmarshal(payload["error"], &msg))
	assert.Contains(t, msg, "slow did not finish within 30ms")

	c.send(t, `[2, {"method":"echo","params":true}]`)
	id, payload = c.recv(t)
	assert.Equal(t, int64(2), id)
	assert.JSONEq(t, `true`, string(payload["result"]))
}

func TestFramingErrorClosesConnection(t *testing.T) {
	_, addr := startServer(t, time.Second, nil)
	c := dial(t, addr)
	c.send(t, `{"method":"echo"}`)

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var v interface{}
	assert.Error(t, c.dec.Decode(&v), "connection must be closed")

	// The listener keeps serving new clients.
	c2 := dial(t, addr)
	c2.send(t, `[1, {"method":"echo","params":0}]`)
	id, _ := c2.recv(t)
	assert.Equal(t, int64(1), id)
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantID  int64
		method  string
		nilReq  bool
		wantErr bool
	}{
		{name: "request", data: `[9, {"method":"m","params":[1]}]`, wantID: 9, method: "m"},
		{name: "extra elements ignored", data: `[1, {"method":"m"}, 3]`, wantID: 1, method: "m"},
		{name: "null request", data: `[1, null]`, wantID: 1, nilReq: true},
		{name: "not an array", data: `{"method":"m"}`, wantErr: true},
		{name: "short", data: `[1]`, wantErr: true},
		{name: "string id", data: `["1", {}]`, wantErr: true},
		{name: "request not an object", data: `[1, 2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, req, err := decodeFrame(json.RawMessage(tt.data))
			if tt.wantErr {
				assert.True(t, errdefs.IsProtocol(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			if tt.nilReq {
				assert.Nil(t, req)
				return
			}
			require.NotNil(t, req)
			require.NotNil(t, req.Method)
			assert.Equal(t, tt.method, *req.Method)
		})
	}
}
