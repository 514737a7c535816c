// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ucpanel/ucpanel/pkg/errutil"
)

// Email template names.
const (
	TemplateEmailVerification = "email_verification"
	TemplatePasswordReset     = "password_reset"
)

// Operation names used in logs and metrics.
const (
	OpRegister              = "register"
	OpLogin                 = "login"
	OpLogout                = "logout"
	OpChangePassword        = "change_password"
	OpRequestPasswordReset  = "request_password_reset"
	OpCompletePasswordReset = "complete_password_reset"
	OpVerifyEmail           = "verify_email"
	OpResolveSession        = "resolve_session"
	OpLoginHistory          = "login_history"
)

// Login history page bounds.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Mailer dispatches templated email. Delivery failures are reported but never
// undo the operation that triggered them.
type Mailer interface {
	SendTemplate(ctx context.Context, template, recipient string, vars map[string]string) error
}

// ServiceDeps holds the collaborators of a Service. Store is required.
type ServiceDeps struct {
	Store Store
	// Hasher defaults to an Argon2idHasher built from Config.Argon2.
	Hasher PasswordHasher
	// Mailer may be nil, in which case outgoing email is skipped with a warning.
	Mailer Mailer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// RegisterRequest is the input of Register.
type RegisterRequest struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	Captcha         CaptchaVerdict
	TermsAccepted   bool
	SourceAddress   string
}

// LoginRequest is the input of Login. Identifier is a username or an email.
type LoginRequest struct {
	Identifier    string
	Password      string
	Captcha       CaptchaVerdict
	SourceAddress string
	UserAgent     string
}

// ChangePasswordRequest is the input of ChangePassword. CurrentSession is the
// handle of the session making the change; it survives session revocation.
type ChangePasswordRequest struct {
	IdentityID         ulid.ULID
	CurrentSession     string
	CurrentPassword    string
	NewPassword        string
	NewPasswordConfirm string
}

// PasswordResetRequest is the input of RequestPasswordReset.
type PasswordResetRequest struct {
	Email         string
	Captcha       CaptchaVerdict
	SourceAddress string
}

// CompletePasswordResetRequest is the input of CompletePasswordReset.
type CompletePasswordResetRequest struct {
	Token              string
	NewPassword        string
	NewPasswordConfirm string
}

// Service orchestrates the account security flows.
type Service struct {
	cfg       Config
	store     Store
	hasher    PasswordHasher
	mailer    Mailer
	logger    *slog.Logger
	now       func() time.Time
	validator *Validator
	captcha   *CaptchaEvaluator
	lockout   *LockoutTracker
	resets    *ResetTokenStore
	sessions  *SessionManager

	dummyOnce sync.Once
	dummyHash string

	mailWG sync.WaitGroup
}

// NewService wires a Service from configuration and collaborators.
func NewService(cfg Config, deps ServiceDeps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, oops.Code(CodeMissingDependency).Errorf("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Hasher == nil {
		h, err := NewArgon2idHasher(cfg.Argon2)
		if err != nil {
			return nil, err
		}
		deps.Hasher = h
	}

	validator, err := NewValidator(cfg.Username, cfg.Email, cfg.Password)
	if err != nil {
		return nil, err
	}
	captcha, err := NewCaptchaEvaluatorWithLogger(cfg.Captcha, deps.Logger)
	if err != nil {
		return nil, err
	}
	lockout, err := NewLockoutTracker(deps.Store.Attempts(), cfg.Lockout)
	if err != nil {
		return nil, err
	}
	resets, err := NewResetTokenStore(deps.Store.Resets(), cfg.Reset)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionManager(deps.Store.Sessions(), cfg.Session)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		hasher:    deps.Hasher,
		mailer:    deps.Mailer,
		logger:    deps.Logger,
		now:       deps.Now,
		validator: validator,
		captcha:   captcha,
		lockout:   lockout,
		resets:    resets,
		sessions:  sessions,
	}, nil
}

// Sessions exposes the session manager for housekeeping.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Lockout exposes the lockout tracker for housekeeping.
func (s *Service) Lockout() *LockoutTracker { return s.lockout }

// Resets exposes the reset token store for housekeeping.
func (s *Service) Resets() *ResetTokenStore { return s.resets }

// Register creates a new identity. Checks run in a fixed order and the first
// failure is the only one reported.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpRegister, res.Kind, started) }()

	if !s.cfg.Features.Registration {
		return reject(KindPolicy, CodeFeatureDisabled, "", MsgFeatureDisabled)
	}
	if d := s.captcha.Evaluate(ctx, req.Captcha, CaptchaActionRegister); !d.Accepted {
		return reject(KindPolicy, CodeCaptchaRejected, FieldCaptcha, MsgCaptchaFailed)
	}
	if !req.TermsAccepted {
		return reject(KindValidation, CodeTermsRequired, FieldTerms, MsgTermsRequired)
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if err := s.validator.CheckUsername(username); err != nil {
		return rejectErr(err)
	}
	if err := s.validator.CheckEmail(email); err != nil {
		return rejectErr(err)
	}
	if err := s.validator.CheckPassword(req.Password); err != nil {
		return rejectErr(err)
	}
	if err := s.validator.CheckConfirmation(req.Password, req.PasswordConfirm); err != nil {
		return rejectErr(err)
	}

	identities := s.store.Identities()
	if _, err := identities.GetByUsername(ctx, username); err == nil {
		return reject(KindConflict, CodeUsernameTaken, FieldUsername, MsgUsernameTaken)
	} else if !errors.Is(err, ErrNotFound) {
		return s.internalFailure(ctx, OpRegister, err)
	}
	if _, err := identities.GetByEmail(ctx, email); err == nil {
		return reject(KindConflict, CodeEmailTaken, FieldEmail, MsgEmailTaken)
	} else if !errors.Is(err, ErrNotFound) {
		return s.internalFailure(ctx, OpRegister, err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if kind := KindOf(err); kind == KindValidation {
			return rejectErr(err)
		}
		return s.internalFailure(ctx, OpRegister, err)
	}

	now := s.now()
	identity, err := NewIdentity(username, email, hash, now)
	if err != nil {
		return s.internalFailure(ctx, OpRegister, err)
	}

	var verifyToken string
	if s.cfg.Features.EmailVerification {
		token, tokenHash, genErr := GenerateToken()
		if genErr != nil {
			return s.internalFailure(ctx, OpRegister, genErr)
		}
		verifyToken = token
		identity.VerificationTokenHash = tokenHash
	} else {
		identity.EmailVerified = true
	}

	if err := identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			return s.conflictResult(err)
		}
		return s.internalFailure(ctx, OpRegister, err)
	}

	s.logger.InfoContext(ctx, "identity registered",
		"identity_id", identity.ID.String(),
		"source_address", req.SourceAddress)

	if verifyToken == "" {
		return succeed(MsgRegistered, RegisterData{IdentityID: identity.ID.String()})
	}

	s.dispatch(ctx, TemplateEmailVerification, identity.Email, map[string]string{
		"username":         identity.Username,
		"verification_url": s.linkURL("/verify-email", verifyToken),
	})
	return succeed(MsgRegisteredVerify, RegisterData{IdentityID: identity.ID.String()})
}

// Login authenticates an identifier and opens a session.
//
// The steps run in a fixed order: captcha, lockout, resolve identity, verify
// password, ban check, activation check, then success bookkeeping. The lockout
// step appends the attempt before counting, so parallel guesses cannot all
// pass against the same count. A locked identifier never reaches the identity
// store, and unknown identifiers still pay for a hash verification so timing
// does not reveal which identifiers exist.
func (s *Service) Login(ctx context.Context, req LoginRequest) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpLogin, res.Kind, started) }()

	if d := s.captcha.Evaluate(ctx, req.Captcha, CaptchaActionLogin); !d.Accepted {
		return reject(KindPolicy, CodeCaptchaRejected, FieldCaptcha, MsgCaptchaFailed)
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		return reject(KindValidation, CodeInvalidCredentials, "", MsgMissingCredentials)
	}

	now := s.now()
	attempt, locked, err := s.lockout.Reserve(ctx, identifier, req.SourceAddress, now)
	// The reservation stands only as a failed guess; Clear takes it on success.
	settled := false
	defer func() {
		if !settled {
			s.releaseAttempt(ctx, attempt)
		}
	}()
	if err != nil {
		return s.internalFailure(ctx, OpLogin, err)
	}
	if locked {
		LockoutsTotal.Inc()
		s.logger.WarnContext(ctx, "login rejected by lockout", "source_address", req.SourceAddress)
		return reject(KindPolicy, CodeAccountLocked, "", MsgTooManyAttempts)
	}

	identity, err := s.store.Identities().GetByLogin(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		// Equalizes timing with the found path; the result is irrelevant.
		_, _ = s.hasher.Verify(req.Password, s.timingHash())
		settled = true
		return s.credentialFailure(ctx, req, nil, now)
	}
	if err != nil {
		return s.internalFailure(ctx, OpLogin, err)
	}

	valid, err := s.hasher.Verify(req.Password, identity.PasswordHash)
	if err != nil {
		return s.internalFailure(ctx, OpLogin, oops.Code("AUTH_STORED_HASH_INVALID").
			With("identity_id", identity.ID.String()).
			Wrap(err))
	}
	if !valid {
		settled = true
		return s.credentialFailure(ctx, req, identity, now)
	}

	if identity.Banned {
		s.logger.InfoContext(ctx, "login rejected for banned identity", "identity_id", identity.ID.String())
		return reject(KindPolicy, CodeAccountBanned, "", MsgBanned)
	}
	if s.cfg.Features.EmailVerification && !identity.EmailVerified {
		return reject(KindPolicy, CodeNotActivated, "", MsgNotActivated)
	}

	if err := s.lockout.Clear(ctx, identifier); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to clear login attempts", err, "operation", OpLogin)
	} else {
		settled = true
	}
	if err := s.store.Identities().RecordLogin(ctx, identity.ID, now, req.SourceAddress); err != nil {
		return s.internalFailure(ctx, OpLogin, err)
	}
	identity.LastLoginAt = &now
	identity.LastLoginIP = req.SourceAddress

	if s.hasher.NeedsRehash(identity.PasswordHash) {
		s.upgradeHash(ctx, identity, req.Password)
	}

	if s.cfg.Policy.SingleSession {
		if _, err := s.sessions.DestroyAllFor(ctx, identity.ID, ""); err != nil {
			return s.internalFailure(ctx, OpLogin, err)
		}
	}

	handle, _, err := s.sessions.Open(ctx, identity.ID, SessionMeta{
		SourceAddress: req.SourceAddress,
		UserAgent:     req.UserAgent,
	}, now)
	if err != nil {
		return s.internalFailure(ctx, OpLogin, err)
	}

	s.appendHistory(ctx, identity.ID, req, LoginStatusSuccess, now)
	s.logger.InfoContext(ctx, "login succeeded",
		"identity_id", identity.ID.String(),
		"source_address", req.SourceAddress)

	return succeed(MsgLoggedIn, LoginData{
		Identity: identity.View(),
		Session: SessionData{
			Token:       handle,
			IdleTimeout: int64(s.cfg.Session.IdleTimeout / time.Second),
		},
	})
}

// credentialFailure returns the shared invalid credentials result. The reserved
// attempt stays in the log. identity is nil when the identifier did not resolve.
func (s *Service) credentialFailure(ctx context.Context, req LoginRequest, identity *Identity, now time.Time) Result {
	if identity != nil {
		s.appendHistory(ctx, identity.ID, req, LoginStatusFailedPassword, now)
	}
	return reject(KindPolicy, CodeInvalidCredentials, "", MsgInvalidCredentials)
}

func (s *Service) releaseAttempt(ctx context.Context, attempt *LoginAttempt) {
	if err := s.lockout.Release(ctx, attempt); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to release login attempt", err, "operation", OpLogin)
	}
}

// Logout destroys the session. Unknown and expired handles succeed too.
func (s *Service) Logout(ctx context.Context, handle string) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpLogout, res.Kind, started) }()

	if err := s.sessions.Destroy(ctx, handle); err != nil {
		return s.internalFailure(ctx, OpLogout, err)
	}
	return succeed(MsgLoggedOut, nil)
}

// ChangePassword replaces the password of an authenticated identity.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpChangePassword, res.Kind, started) }()

	identity, err := s.store.Identities().GetByID(ctx, req.IdentityID)
	if errors.Is(err, ErrNotFound) {
		return reject(KindNotFoundOrExpired, CodeSessionInvalid, "", MsgSessionInvalid)
	}
	if err != nil {
		return s.internalFailure(ctx, OpChangePassword, err)
	}

	valid, err := s.hasher.Verify(req.CurrentPassword, identity.PasswordHash)
	if err != nil {
		return s.internalFailure(ctx, OpChangePassword, err)
	}
	if !valid {
		return reject(KindPolicy, CodeCurrentPassword, FieldCurrentPassword, MsgCurrentPassword)
	}
	if err := s.validator.CheckPassword(req.NewPassword); err != nil {
		return rejectErr(err)
	}
	if err := s.validator.CheckConfirmation(req.NewPassword, req.NewPasswordConfirm); err != nil {
		return rejectErr(err)
	}
	if s.cfg.Password.RejectReuse && req.NewPassword == req.CurrentPassword {
		return reject(KindPolicy, CodePasswordReused, FieldPassword, MsgPasswordReused)
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return s.internalFailure(ctx, OpChangePassword, err)
	}

	now := s.now()
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.Identities().UpdatePassword(ctx, identity.ID, hash, now); err != nil {
			return err
		}
		if !s.cfg.Policy.RevokeSessionsOnPasswordChange {
			return nil
		}
		_, err := s.sessions.WithRepository(tx.Sessions()).DestroyAllFor(ctx, identity.ID, req.CurrentSession)
		return err
	})
	if err != nil {
		return s.internalFailure(ctx, OpChangePassword, err)
	}

	s.logger.InfoContext(ctx, "password changed", "identity_id", identity.ID.String())
	return succeed(MsgPasswordChanged, nil)
}

// RequestPasswordReset issues a reset token and mails it. The response is the
// same whether or not the email belongs to an identity.
func (s *Service) RequestPasswordReset(ctx context.Context, req PasswordResetRequest) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpRequestPasswordReset, res.Kind, started) }()

	if !s.cfg.Features.PasswordReset {
		return reject(KindPolicy, CodeFeatureDisabled, "", MsgFeatureDisabled)
	}
	if d := s.captcha.Evaluate(ctx, req.Captcha, CaptchaActionPasswordReset); !d.Accepted {
		return reject(KindPolicy, CodeCaptchaRejected, FieldCaptcha, MsgCaptchaFailed)
	}

	email := strings.TrimSpace(req.Email)
	identity, err := s.store.Identities().GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.logger.InfoContext(ctx, "password reset requested for unknown email", "source_address", req.SourceAddress)
		return succeed(MsgResetRequested, nil)
	}
	if err != nil {
		return s.internalFailure(ctx, OpRequestPasswordReset, err)
	}

	token, expiresAt, err := s.resets.Issue(ctx, identity.ID, s.now())
	if err != nil {
		return s.internalFailure(ctx, OpRequestPasswordReset, err)
	}

	s.logger.InfoContext(ctx, "password reset issued",
		"identity_id", identity.ID.String(),
		"expires_at", expiresAt)

	s.dispatchAsync(ctx, TemplatePasswordReset, identity.Email, map[string]string{
		"username":   identity.Username,
		"reset_url":  s.linkURL("/reset-password", token),
		"expires_at": expiresAt.UTC().Format(time.RFC1123),
	})
	return succeed(MsgResetRequested, nil)
}

var errResetTokenSpent = errors.New("reset token no longer active")

// CompletePasswordReset redeems a reset token. Consuming the token and
// replacing the password commit together or not at all.
func (s *Service) CompletePasswordReset(ctx context.Context, req CompletePasswordResetRequest) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpCompletePasswordReset, res.Kind, started) }()

	if !s.cfg.Features.PasswordReset {
		return reject(KindPolicy, CodeFeatureDisabled, "", MsgFeatureDisabled)
	}

	identityID, valid, err := s.resets.Lookup(ctx, req.Token, s.now())
	if err != nil {
		return s.internalFailure(ctx, OpCompletePasswordReset, err)
	}
	if !valid {
		return reject(KindNotFoundOrExpired, CodeResetTokenInvalid, FieldToken, MsgResetInvalid)
	}
	if err := s.validator.CheckPassword(req.NewPassword); err != nil {
		return rejectErr(err)
	}
	if err := s.validator.CheckConfirmation(req.NewPassword, req.NewPasswordConfirm); err != nil {
		return rejectErr(err)
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return s.internalFailure(ctx, OpCompletePasswordReset, err)
	}

	now := s.now()
	err = s.store.InTx(ctx, func(tx Store) error {
		consumed, err := s.resets.WithRepository(tx.Resets()).Consume(ctx, req.Token, now)
		if err != nil {
			return err
		}
		if !consumed {
			return errResetTokenSpent
		}
		if err := tx.Identities().UpdatePassword(ctx, identityID, hash, now); err != nil {
			return err
		}
		if !s.cfg.Policy.RevokeSessionsOnPasswordChange {
			return nil
		}
		_, err = s.sessions.WithRepository(tx.Sessions()).DestroyAllFor(ctx, identityID, "")
		return err
	})
	if errors.Is(err, errResetTokenSpent) || errors.Is(err, ErrNotFound) {
		return reject(KindNotFoundOrExpired, CodeResetTokenInvalid, FieldToken, MsgResetInvalid)
	}
	if err != nil {
		return s.internalFailure(ctx, OpCompletePasswordReset, err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "identity_id", identityID.String())
	return succeed(MsgPasswordReset, nil)
}

// VerifyEmail marks the identity owning the verification token as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpVerifyEmail, res.Kind, started) }()

	if !s.cfg.Features.EmailVerification {
		return reject(KindPolicy, CodeFeatureDisabled, "", MsgFeatureDisabled)
	}
	if !wellFormedToken(token) {
		return reject(KindNotFoundOrExpired, CodeVerifyTokenInvalid, FieldToken, MsgVerifyInvalid)
	}

	identity, err := s.store.Identities().GetByVerificationTokenHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return reject(KindNotFoundOrExpired, CodeVerifyTokenInvalid, FieldToken, MsgVerifyInvalid)
	}
	if err != nil {
		return s.internalFailure(ctx, OpVerifyEmail, err)
	}
	if err := s.store.Identities().MarkEmailVerified(ctx, identity.ID, s.now()); err != nil {
		return s.internalFailure(ctx, OpVerifyEmail, err)
	}

	s.logger.InfoContext(ctx, "email verified", "identity_id", identity.ID.String())
	return succeed(MsgEmailVerified, nil)
}

// ResolveSession validates a session handle, records activity on it and
// returns the identity it belongs to. Sessions of banned or vanished
// identities are destroyed.
func (s *Service) ResolveSession(ctx context.Context, handle string) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpResolveSession, res.Kind, started) }()

	now := s.now()
	identityID, valid, err := s.sessions.Validate(ctx, handle, now)
	if err != nil {
		return s.internalFailure(ctx, OpResolveSession, err)
	}
	if !valid {
		return reject(KindNotFoundOrExpired, CodeSessionInvalid, "", MsgSessionInvalid)
	}

	identity, err := s.store.Identities().GetByID(ctx, identityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return s.internalFailure(ctx, OpResolveSession, err)
	}
	if err != nil || identity.Banned {
		if err := s.sessions.Destroy(ctx, handle); err != nil {
			return s.internalFailure(ctx, OpResolveSession, err)
		}
		return reject(KindNotFoundOrExpired, CodeSessionInvalid, "", MsgSessionInvalid)
	}

	if err := s.sessions.Touch(ctx, handle, now); err != nil {
		if KindOf(err) == KindNotFoundOrExpired {
			return reject(KindNotFoundOrExpired, CodeSessionInvalid, "", MsgSessionInvalid)
		}
		return s.internalFailure(ctx, OpResolveSession, err)
	}
	return succeed(MsgSessionValid, SessionIdentity{Identity: identity.View()})
}

// LoginHistory returns the identity's most recent logins, newest first.
func (s *Service) LoginHistory(ctx context.Context, identityID ulid.ULID, limit int) (res Result) {
	started := time.Now()
	defer func() { recordOperation(OpLoginHistory, res.Kind, started) }()

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	records, err := s.store.History().List(ctx, identityID, limit)
	if err != nil {
		return s.internalFailure(ctx, OpLoginHistory, err)
	}
	if records == nil {
		records = []*LoginRecord{}
	}
	return succeed(MsgLoginHistory, records)
}

// internalFailure logs err and returns the generic unavailable result.
func (s *Service) internalFailure(ctx context.Context, op string, err error) Result {
	errutil.LogErrorContext(ctx, s.logger, op+" failed", err, "operation", op)
	return unavailable()
}

// conflictResult maps a repository uniqueness violation to a Result.
func (s *Service) conflictResult(err error) Result {
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Context()["field"] {
		case FieldUsername:
			return reject(KindConflict, CodeUsernameTaken, FieldUsername, MsgUsernameTaken)
		case FieldEmail:
			return reject(KindConflict, CodeEmailTaken, FieldEmail, MsgEmailTaken)
		}
	}
	return reject(KindConflict, CodeIdentityConflict, "", MsgAccountExists)
}

// timingHash returns a hash in the configured parameters that no password matches.
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		token, _, err := GenerateToken()
		if err == nil {
			s.dummyHash, err = s.hasher.Hash(token)
		}
		if err != nil {
			errutil.LogError(s.logger, "failed to prepare timing hash", err)
		}
	})
	return s.dummyHash
}

func (s *Service) upgradeHash(ctx context.Context, identity *Identity, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.store.Identities().UpgradePasswordHash(ctx, identity.ID, hash)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "password rehash failed", err,
			"identity_id", identity.ID.String())
		return
	}
	identity.PasswordHash = hash
	s.logger.InfoContext(ctx, "password hash upgraded", "identity_id", identity.ID.String())
}

func (s *Service) appendHistory(ctx context.Context, identityID ulid.ULID, req LoginRequest, status string, at time.Time) {
	err := s.store.History().Append(ctx, &LoginRecord{
		ID:            ulid.Make(),
		IdentityID:    identityID,
		SourceAddress: req.SourceAddress,
		UserAgent:     req.UserAgent,
		Status:        status,
		At:            at,
	})
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to append login history", err,
			"identity_id", identityID.String())
	}
}

// dispatch sends templated email within the configured timeout. Failures are
// logged and swallowed. Token-bearing variables are never logged.
func (s *Service) dispatch(ctx context.Context, template, recipient string, vars map[string]string) {
	if s.mailer == nil {
		s.logger.WarnContext(ctx, "no mailer configured, email not sent", "template", template)
		return
	}
	if vars == nil {
		vars = map[string]string{}
	}
	vars["site_name"] = s.cfg.SiteName
	vars["site_url"] = s.cfg.SiteURL

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()
	if err := s.mailer.SendTemplate(sendCtx, template, recipient, vars); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "email dispatch failed", err, "template", template)
	}
}

// dispatchAsync sends in the background so the caller's response time does
// not depend on whether the recipient has an account. The send keeps the
// request's values but not its cancellation, and is still bounded by the
// dispatch timeout.
func (s *Service) dispatchAsync(ctx context.Context, template, recipient string, vars map[string]string) {
	ctx = context.WithoutCancel(ctx)
	s.mailWG.Go(func() {
		s.dispatch(ctx, template, recipient, vars)
	})
}

// Flush waits for background email dispatches to finish.
func (s *Service) Flush() {
	s.mailWG.Wait()
}

// linkURL builds an absolute link to path carrying token as a query parameter.
func (s *Service) linkURL(path, token string) string {
	base := strings.TrimRight(s.cfg.SiteURL, "/")
	return base + path + "?" + url.Values{"token": {token}}.Encode()
}
