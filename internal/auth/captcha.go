// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// Captcha action labels.
const (
	CaptchaActionRegister      = "register"
	CaptchaActionLogin         = "login"
	CaptchaActionPasswordReset = "password_reset"
)

// Captcha rejection reasons.
const (
	CaptchaReasonUnsuccessful   = "unsuccessful"
	CaptchaReasonLowScore       = "low_score"
	CaptchaReasonActionMismatch = "action_mismatch"
)

// Captcha warnings. A warning is logged but never rejects on its own.
const (
	CaptchaWarningHostnameMismatch = "hostname_mismatch"
)

// CaptchaVerdict is the parsed response of the captcha verification service.
// Score is nil for binary-verdict schemes.
type CaptchaVerdict struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// CaptchaDecision is the outcome of evaluating a CaptchaVerdict.
type CaptchaDecision struct {
	Accepted bool
	// Reason is set when the verdict was rejected.
	Reason   string
	Warnings []string
}

// EvaluateCaptcha applies the hard rejection rules to v and collects soft warnings.
// The checks are, in order: success flag, minimum score, action match.
// A hostname that differs from the configured site hostname is only a warning.
func EvaluateCaptcha(v CaptchaVerdict, expectedAction string, policy CaptchaPolicy) CaptchaDecision {
	var d CaptchaDecision
	if v.Hostname != "" && policy.SiteHostname != "" && !strings.EqualFold(v.Hostname, policy.SiteHostname) {
		d.Warnings = append(d.Warnings, CaptchaWarningHostnameMismatch)
	}

	switch {
	case !v.Success:
		d.Reason = CaptchaReasonUnsuccessful
	case v.Score != nil && *v.Score < policy.MinScore:
		d.Reason = CaptchaReasonLowScore
	case expectedAction != "" && v.Action != "" && v.Action != expectedAction:
		d.Reason = CaptchaReasonActionMismatch
	default:
		d.Accepted = true
	}
	return d
}

// CaptchaEvaluator applies EvaluateCaptcha under a policy, logging anomalies
// and counting rejections.
type CaptchaEvaluator struct {
	policy CaptchaPolicy
	logger *slog.Logger
}

// NewCaptchaEvaluator creates a CaptchaEvaluator with the default logger.
func NewCaptchaEvaluator(policy CaptchaPolicy) *CaptchaEvaluator {
	return &CaptchaEvaluator{policy: policy, logger: slog.Default()}
}

// NewCaptchaEvaluatorWithLogger creates a CaptchaEvaluator with a custom logger.
func NewCaptchaEvaluatorWithLogger(policy CaptchaPolicy, logger *slog.Logger) (*CaptchaEvaluator, error) {
	if logger == nil {
		return nil, oops.Code(CodeMissingDependency).Errorf("logger is required")
	}
	return &CaptchaEvaluator{policy: policy, logger: logger}, nil
}

// Enabled reports whether captcha checks are enforced.
func (e *CaptchaEvaluator) Enabled() bool {
	return e.policy.Enabled
}

// Evaluate decides whether v is acceptable for action.
// When captcha is disabled every verdict is accepted.
func (e *CaptchaEvaluator) Evaluate(ctx context.Context, v CaptchaVerdict, action string) CaptchaDecision {
	if !e.policy.Enabled {
		return CaptchaDecision{Accepted: true}
	}

	d := EvaluateCaptcha(v, action, e.policy)
	for _, w := range d.Warnings {
		e.logger.WarnContext(ctx, "captcha verdict anomaly",
			"warning", w,
			"action", action,
			"hostname", v.Hostname,
			"expected_hostname", e.policy.SiteHostname)
	}
	if !d.Accepted {
		CaptchaRejections.WithLabelValues(action, d.Reason).Inc()
		attrs := []any{"action", action, "reason", d.Reason}
		if v.Score != nil {
			attrs = append(attrs, "score", *v.Score, "min_score", e.policy.MinScore)
		}
		if len(v.ErrorCodes) > 0 {
			attrs = append(attrs, "error_codes", v.ErrorCodes)
		}
		e.logger.InfoContext(ctx, "captcha verdict rejected", attrs...)
	}
	return d
}
