// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for operation metrics.
const (
	OutcomeSuccess     = "success"
	OutcomeValidation  = "validation"
	OutcomePolicy      = "policy"
	OutcomeNotFound    = "not_found_or_expired"
	OutcomeConflict    = "conflict"
	OutcomeUnavailable = "unavailable"
)

// OperationsTotal counts service operations by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ucpanel_auth_operations_total",
		Help: "Total number of account security operations by outcome",
	},
	[]string{"operation", "outcome"},
)

// OperationDuration tracks how long service operations take, hashing included.
var OperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ucpanel_auth_operation_duration_seconds",
		Help:    "Account security operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// LockoutsTotal counts login attempts rejected because the identifier was locked.
var LockoutsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ucpanel_auth_lockouts_total",
		Help: "Total number of login attempts rejected by lockout",
	},
)

// CaptchaRejections counts rejected captcha verdicts by action and reason.
var CaptchaRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ucpanel_captcha_rejections_total",
		Help: "Total number of rejected captcha verdicts",
	},
	[]string{"action", "reason"},
)

// SweptTotal counts records removed by the sweeper by kind.
var SweptTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ucpanel_auth_swept_total",
		Help: "Total number of expired records removed by the sweeper",
	},
	[]string{"kind"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OperationsTotal)
	reg.MustRegister(OperationDuration)
	reg.MustRegister(LockoutsTotal)
	reg.MustRegister(CaptchaRejections)
	reg.MustRegister(SweptTotal)
}

func recordOperation(operation string, kind ErrorKind, started time.Time) {
	OperationsTotal.WithLabelValues(operation, outcomeFor(kind)).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func outcomeFor(kind ErrorKind) string {
	switch kind {
	case KindNone:
		return OutcomeSuccess
	case KindValidation:
		return OutcomeValidation
	case KindPolicy:
		return OutcomePolicy
	case KindNotFoundOrExpired:
		return OutcomeNotFound
	case KindConflict:
		return OutcomeConflict
	default:
		return OutcomeUnavailable
	}
}
