// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/gradchat/internal/gradient"
)

// Namespace prefixes every metric name.
const Namespace = "gradchat"

// Failure kinds used as the "kind" label on the failures counter.
const (
	KindTransport     = "transport"
	KindHTTPStatus    = "http_status"
	KindJobFailed     = "job_failed"
	KindJobIncomplete = "job_incomplete"
	KindCanceled      = "canceled"
	KindOther         = "other"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics tracks generate requests.
//
// Metrics:
//   - gradchat_requests_total: Requests by model and result (ok, error)
//   - gradchat_request_failures_total: Failed requests by kind
//   - gradchat_decode_skipped_lines_total: Malformed stream lines skipped
//   - gradchat_request_duration_seconds: Round-trip latency by model
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	skippedLines  prometheus.Counter
	duration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "requests_total",
				Help:      "Total number of generate requests",
			},
			[]string{"model", "result"},
		),

		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "request_failures_total",
				Help:      "Total number of failed generate requests by failure kind",
			},
			[]string{"kind"},
		),

		skippedLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "decode_skipped_lines_total",
				Help:      "Total number of malformed stream lines skipped while decoding",
			},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "request_duration_seconds",
				Help:      "Generate round-trip latency in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"model"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.failuresTotal,
		m.skippedLines,
		m.duration,
	)

	return m
}

// RequestDone records one finished generate request.
func (m *Metrics) RequestDone(model string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	m.duration.WithLabelValues(model).Observe(elapsed.Seconds())

	if err != nil {
		m.requestsTotal.WithLabelValues(model, "error").Inc()
		m.failuresTotal.WithLabelValues(FailureKind(err)).Inc()
		return
	}
	m.requestsTotal.WithLabelValues(model, "ok").Inc()
}

// LinesSkipped adds n to the skipped-lines counter.
func (m *Metrics) LinesSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skippedLines.Add(float64(n))
}

// FailureKind classifies a generate error for the failures counter.
func FailureKind(err error) string {
	var failed *gradient.JobFailedError
	var te *gradient.TransportError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.As(err, &failed):
		return KindJobFailed
	case errors.Is(err, gradient.ErrJobIncomplete):
		return KindJobIncomplete
	case errors.As(err, &te):
		if te.StatusCode != 0 {
			return KindHTTPStatus
		}
		return KindTransport
	default:
		return KindOther
	}
}
