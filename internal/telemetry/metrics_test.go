// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/gradchat/internal/gradient"
)

func TestMetrics_RequestDone(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RequestDone("GPT OSS 120B", 2*time.Second, nil)
	m.RequestDone("GPT OSS 120B", time.Second, nil)
	m.RequestDone("GPT OSS 120B", time.Second, gradient.ErrJobIncomplete)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GPT OSS 120B", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GPT OSS 120B", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failuresTotal.WithLabelValues(KindJobIncomplete)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestMetrics_LinesSkipped(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.LinesSkipped(3)
	m.LinesSkipped(0)
	m.LinesSkipped(-2)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.skippedLines))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RequestDone("x", time.Second, errors.New("boom"))
		m.LinesSkipped(4)
	})
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "job incomplete", err: fmt.Errorf("decode response: %w", gradient.ErrJobIncomplete), want: KindJobIncomplete},
		{name: "job failed", err: &gradient.JobFailedError{Status: "failed"}, want: KindJobFailed},
		{name: "http status", err: &gradient.TransportError{Op: "generate", StatusCode: 500}, want: KindHTTPStatus},
		{name: "network", err: &gradient.TransportError{Op: "generate", Err: errors.New("refused")}, want: KindTransport},
		{name: "deadline", err: &gradient.TransportError{Op: "generate", Err: context.DeadlineExceeded}, want: KindCanceled},
		{name: "other", err: errors.New("boom"), want: KindOther},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FailureKind(tc.err))
		})
	}
}

func TestServeListener(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.LinesSkipped(2)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, registry, nil) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gradchat_decode_skipped_lines_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
