// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "data_viewer"

var (
	// PublishTotal counts publish and append attempts by operation and outcome.
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "publish_total",
		Help:      "The total number of publish and append attempts",
	}, []string{"op", "outcome"})

	// ValidationErrors counts manifest validation errors by error type.
	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "validation_errors_total",
		Help:      "The total number of manifest validation errors",
	}, []string{"type"})

	// ItemsCreated counts items persisted by publish and append.
	ItemsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "items_created_total",
		Help:      "The total number of items persisted",
	})

	// GrantsMinted counts signed grants by operation (put, get) and whether the cache served them.
	GrantsMinted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grants",
		Name:      "minted_total",
		Help:      "The total number of signed asset grants issued",
	}, []string{"op", "cached"})

	// GrantRejections counts grant verification failures by reason.
	GrantRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grants",
		Name:      "rejected_total",
		Help:      "The total number of rejected signed asset grants",
	}, []string{"reason"})

	// RateLimited counts requests rejected by the ingest rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "The total number of rate limited requests",
	})
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)
