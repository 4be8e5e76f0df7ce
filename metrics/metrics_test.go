package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/phayes/freeport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsTimeouts(t *testing.T) {
	before := testutil.ToFloat64(Timeouts.WithLabelValues("slow_method"))
	Observe(ProtocolFramed, "slow_method", OutcomeTimeout, time.Now())
	Observe(ProtocolFramed, "slow_method", OutcomeOK, time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(Timeouts.WithLabelValues("slow_method")))
	assert.Equal(t, float64(1), testutil.ToFloat64(Requests.WithLabelValues(ProtocolFramed, "slow_method", OutcomeOK)))
}

func TestServe(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, testr.New(t), addr) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, "ijaas_open_documents"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
