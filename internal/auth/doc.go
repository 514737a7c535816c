// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

// Package auth provides the account security and session core for UCPanel.
//
// # Components
//
// Leaf components have no dependencies on each other:
//   - Argon2idHasher - memory-hard password hashing (PasswordHasher)
//   - CaptchaEvaluator - accept/reject decisions over a CaptchaVerdict
//   - LockoutTracker - sliding-window throttling over the LoginAttemptLog
//   - ResetTokenStore - single-use password reset tokens
//   - SessionManager - opaque session handles with idle timeout
//
// Service orchestrates them for registration, login, logout, password change,
// password reset and email verification. It is the entry point HTTP handlers
// and the CLI call.
//
// # Results
//
// Every Service operation returns a Result. Nothing escapes as an error:
// internal faults are logged and reported as a generic "temporarily
// unavailable" outcome. Result.Kind classifies failures (see ErrorKind).
//
// # Persistence
//
// Store aggregates the repositories the core needs. Implementations live in
// the postgres, redis (attempt log only) and memory subpackages.
package auth
