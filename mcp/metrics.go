// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors for the ambient observability
// surface (SPEC_FULL.md §6): request throughput/latency and session
// counts, independent of the structured event log.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcp",
		Name:      "requests_total",
		Help:      "Inbound requests handled, by method and outcome.",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcp",
		Name:      "request_duration_seconds",
		Help:      "Inbound request handling latency, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	activeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mcp",
		Name:      "active_sessions",
		Help:      "Currently connected sessions, by role.",
	}, []string{"role"})
)

func observeRequest(method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestsTotal.WithLabelValues(method, outcome).Inc()
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// MetricsHandler exposes the collected metrics in the Prometheus text
// exposition format, for mounting at e.g. "/metrics".
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
