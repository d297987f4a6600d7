// Package account implements the user account lifecycle: signup, email
// verification, password change/reset, profile edits, listing, and deletion.
//
// Signup and the email token flows are written so that their externally
// visible behavior does not reveal whether an email address already has an
// account.
package account

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/waqasbhatti/authnzerver/internal/authdb"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/emailer"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/models"
	"github.com/waqasbhatti/authnzerver/internal/passwd"
	"github.com/waqasbhatti/authnzerver/internal/repositories/users"
)

// SignupAckMessage is returned for every signup attempt that does not fail
// password policy, whether the account is new, pending verification, or
// already active. Identical text in all branches is what keeps signup from
// being an account-existence oracle.
const SignupAckMessage = "Thanks for signing up! Please check your email " +
	"for a verification message and follow the instructions in it to " +
	"complete your account setup."

// emailResendWindow is the minimum gap between verification or
// password-reset emails to the same account.
const emailResendWindow = 24 * time.Hour

// sessionTokenKeys are where the email-flow tokens are stashed in session
// extra info, keyed by flow.
const (
	verifyTokenKey     = "signup_verify_token"
	forgotPassTokenKey = "forgotpass_token"
)

// UserInfo is the externally shareable view of a user row. It never carries
// the password hash.
type UserInfo struct {
	UserID           int64      `json:"user_id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	IsActive         bool       `json:"is_active"`
	EmailVerified    bool       `json:"email_verified"`
	UserRole         string     `json:"user_role"`
	CreatedOn        time.Time  `json:"created_on"`
	LastUpdated      time.Time  `json:"last_updated"`
	LastLoginSuccess *time.Time `json:"last_login_success,omitempty"`
}

func userInfoFrom(u *models.User) *UserInfo {
	info := &UserInfo{
		UserID:        u.UserID,
		Email:         u.Email,
		FullName:      u.FullName.String,
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
		UserRole:      u.UserRole,
		CreatedOn:     u.CreatedOn,
		LastUpdated:   u.LastUpdated,
	}
	if u.LastLoginSuccess.Valid {
		t := u.LastLoginSuccess.Time
		info.LastLoginSuccess = &t
	}
	return info
}

// CreateResult is the outcome of a signup attempt.
type CreateResult struct {
	Success   bool
	UserEmail string
	UserID    int64
	// SendVerification tells the caller whether to run the verification
	// email flow. True for new accounts and for ≥24h resends.
	SendVerification bool
	Messages         []string
}

// Result is a generic operation outcome for the password and deletion flows.
type Result struct {
	Success  bool
	UserID   int64
	Messages []string
}

// EditRequest describes a profile edit by an actor on a target account.
type EditRequest struct {
	ActorID   int64
	ActorRole string
	TargetID  int64
	Update    users.Update
}

// Service is the account lifecycle manager.
type Service struct {
	store  *authdb.Store
	hasher passwd.Hasher
	policy passwd.Policy
	sender emailer.Sender
	logger logging.Logger
	now    func() time.Time
}

// NewService builds the account lifecycle manager.
func NewService(store *authdb.Store, hasher passwd.Hasher, policy passwd.Policy,
	sender emailer.Sender, logger logging.Logger) *Service {
	return &Service{
		store:  store,
		hasher: hasher,
		policy: policy,
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create signs up a new account: inactive, locked, unverified, pending email
// verification. The password is policy-checked and hashed before the
// existence check so a conflicting email costs the same as a fresh one.
func (s *Service) Create(ctx context.Context, email, password string) *CreateResult {
	email = normalizeEmail(email)
	now := s.now().UTC()

	fail := &CreateResult{Success: false, UserEmail: email}
	if email == "" || !strings.Contains(email, "@") {
		fail.Messages = []string{"A valid email address is required."}
		return fail
	}

	ok, policyMessages := s.policy.Validate(email, password)

	// Hash unconditionally, before looking at what exists.
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error(ctx, "password hashing failed during signup", "error", err)
		fail.Messages = []string{"Sorry, we could not create your account. Please try again later."}
		return fail
	}
	if !ok {
		fail.Messages = policyMessages
		return fail
	}

	userID, err := s.store.Users.Insert(ctx, &models.User{
		Email:           email,
		Password:        hash,
		EmailVerified:   false,
		IsActive:        false,
		UserRole:        models.RoleLocked,
		CreatedOn:       now,
		LastUpdated:     now,
		EmailVerifySent: sql.NullTime{Time: now, Valid: true},
	})
	switch {
	case err == nil:
		s.logger.Info(ctx, "new user signed up", "user_id", userID)
		return &CreateResult{
			Success:          true,
			UserEmail:        email,
			UserID:           userID,
			SendVerification: true,
			Messages:         []string{SignupAckMessage},
		}

	case errors.Is(err, common.ErrAlreadyExists):
		return s.handleSignupConflict(ctx, email, now)

	default:
		s.logger.Error(ctx, "user insert failed during signup", "error", err)
		fail.Messages = []string{"Sorry, we could not create your account. Please try again later."}
		return fail
	}
}

// handleSignupConflict decides what a duplicate signup looks like from the
// outside: always the same acknowledgment message, with the verification
// resend only actually firing for an inactive account whose last
// verification email is at least 24h old.
func (s *Service) handleSignupConflict(ctx context.Context, email string, now time.Time) *CreateResult {
	res := &CreateResult{
		Success:   false,
		UserEmail: email,
		Messages:  []string{SignupAckMessage},
	}

	existing, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		s.logger.Error(ctx, "conflicting user lookup failed during signup", "error", err)
		return res
	}

	if existing.IsActive {
		s.logger.Warn(ctx, "signup attempted for an active account", "user_id", existing.UserID)
		return res
	}

	if !existing.EmailVerifySent.Valid ||
		now.Sub(existing.EmailVerifySent.Time) >= emailResendWindow {
		s.logger.Info(ctx, "re-sending signup verification", "user_id", existing.UserID)
		res.UserID = existing.UserID
		res.SendVerification = true
		return res
	}

	s.logger.Warn(ctx, "signup verification resend throttled", "user_id", existing.UserID)
	return res
}

// VerifyEmail activates the inactive account for email, marking it verified
// and promoting it to the authenticated role. The caller is responsible for
// having checked the verification token first (see CheckEmailToken).
func (s *Service) VerifyEmail(ctx context.Context, email string) (*UserInfo, error) {
	u, err := s.store.Users.Activate(ctx, normalizeEmail(email), s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user email verified, account active", "user_id", u.UserID)
	return userInfoFrom(u), nil
}

// ChangePassword rotates a logged-in user's password. The current password
// must verify, the new one must differ from it and pass policy, and the
// stored hash is re-read afterwards to confirm it really changed.
func (s *Service) ChangePassword(ctx context.Context, userID int64, email, currentPassword, newPassword string) *Result {
	fail := &Result{Success: false, UserID: userID,
		Messages: []string{"Sorry, we could not change your password."}}

	u, err := s.store.Users.GetByID(ctx, userID)
	if err != nil || u.Email != normalizeEmail(email) {
		return fail
	}

	ok, err := s.hasher.Verify(currentPassword, u.Password)
	if err != nil || !ok {
		fail.Messages = []string{"Your current password did not match the stored value."}
		return fail
	}

	if same, _ := s.hasher.Verify(newPassword, u.Password); same {
		fail.Messages = []string{"Your new password cannot be the same as your current password."}
		return fail
	}

	if ok, messages := s.policy.Validate(u.Email, newPassword); !ok {
		fail.Messages = messages
		return fail
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.Error(ctx, "password hashing failed during change", "user_id", userID, "error", err)
		return fail
	}
	if err := s.store.Users.UpdatePassword(ctx, userID, newHash, s.now().UTC()); err != nil {
		s.logger.Error(ctx, "password update failed", "user_id", userID, "error", err)
		return fail
	}

	// Confirm the write actually landed before claiming success.
	confirm, err := s.store.Users.GetByID(ctx, userID)
	if err != nil || confirm.Password == u.Password {
		s.logger.Error(ctx, "password change did not persist", "user_id", userID)
		return fail
	}
	if ok, _ := s.hasher.Verify(newPassword, confirm.Password); !ok {
		s.logger.Error(ctx, "stored hash does not verify the new password", "user_id", userID)
		return fail
	}

	s.logger.Info(ctx, "user changed password", "user_id", userID)
	return &Result{Success: true, UserID: userID,
		Messages: []string{"Password changed successfully."}}
}

// ResetPassword sets a new password for email, gated on any currently valid
// session (the email-link flow binds the session to the verified reset
// request before calling this). A new password equal to the old one is
// allowed with a warning.
func (s *Service) ResetPassword(ctx context.Context, email, sessionToken, newPassword string) *Result {
	fail := &Result{Success: false,
		Messages: []string{"Sorry, we could not reset your password."}}

	if _, err := s.store.Sessions.GetWithUser(ctx, sessionToken, s.now().UTC()); err != nil {
		return fail
	}

	u, err := s.store.Users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return fail
	}

	var messages []string
	if same, _ := s.hasher.Verify(newPassword, u.Password); same {
		messages = append(messages,
			"Your new password is the same as your previous password.")
	}

	if ok, policyMessages := s.policy.Validate(u.Email, newPassword); !ok {
		fail.UserID = u.UserID
		fail.Messages = policyMessages
		return fail
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.Error(ctx, "password hashing failed during reset", "user_id", u.UserID, "error", err)
		return fail
	}
	if err := s.store.Users.UpdatePassword(ctx, u.UserID, newHash, s.now().UTC()); err != nil {
		s.logger.Error(ctx, "password reset update failed", "user_id", u.UserID, "error", err)
		return fail
	}

	s.logger.Info(ctx, "user password was reset", "user_id", u.UserID)
	return &Result{Success: true, UserID: u.UserID,
		Messages: append(messages, "Password reset successfully.")}
}

// Delete removes an account after re-authenticating it. Superuser accounts
// cannot be deleted. Reports success only once the cascade has verifiably
// removed the account's sessions.
func (s *Service) Delete(ctx context.Context, userID int64, email, password string) *Result {
	fail := &Result{Success: false, UserID: userID,
		Messages: []string{"Sorry, we could not delete this account."}}

	u, err := s.store.Users.GetByID(ctx, userID)
	if err != nil || u.Email != normalizeEmail(email) {
		return fail
	}
	if ok, err := s.hasher.Verify(password, u.Password); err != nil || !ok {
		return fail
	}
	if u.UserRole == models.RoleSuperuser {
		fail.Messages = []string{"Superuser accounts cannot be deleted."}
		return fail
	}

	if err := s.store.Users.Delete(ctx, userID); err != nil {
		s.logger.Error(ctx, "user delete failed", "user_id", userID, "error", err)
		return fail
	}

	// Cascade post-condition: no sessions may survive the user.
	remaining, err := s.store.Sessions.CountForUser(ctx, userID)
	if err != nil || remaining != 0 {
		s.logger.Error(ctx, "sessions survived user deletion",
			"user_id", userID, "remaining", remaining, "error", err)
		return fail
	}

	s.logger.Info(ctx, "user account deleted", "user_id", userID)
	return &Result{Success: true, UserID: userID,
		Messages: []string{"Account deleted successfully."}}
}

// List returns the shareable view of users, all of them when userIDs is
// empty.
func (s *Service) List(ctx context.Context, userIDs []int64) ([]UserInfo, error) {
	rows, err := s.store.Users.List(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	infos := make([]UserInfo, 0, len(rows))
	for i := range rows {
		infos = append(infos, *userInfoFrom(&rows[i]))
	}
	return infos, nil
}

// Edit applies a profile update. Users may change their own full name and
// email; only superusers may change is_active, email_verified, or user_role,
// or edit someone else. The reserved anonymous and dummy accounts are never
// editable.
func (s *Service) Edit(ctx context.Context, req EditRequest) (*UserInfo, error) {
	if req.TargetID == common.AnonymousUserID || req.TargetID == common.DummyUserID {
		return nil, fmt.Errorf("%w: this account cannot be edited", common.ErrValidation)
	}

	isSuperuser := req.ActorRole == models.RoleSuperuser
	if !isSuperuser {
		if req.ActorID != req.TargetID {
			return nil, fmt.Errorf("%w: cannot edit another user's account", common.ErrUnauthorized)
		}
		if req.Update.IsActive != nil || req.Update.EmailVerified != nil || req.Update.UserRole != nil {
			return nil, fmt.Errorf("%w: cannot change account status or role", common.ErrUnauthorized)
		}
	}

	if req.Update.UserRole != nil && !models.IsValidRole(*req.Update.UserRole) {
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrValidation, *req.Update.UserRole)
	}
	if req.Update.Email != nil {
		normalized := normalizeEmail(*req.Update.Email)
		if normalized == "" || !strings.Contains(normalized, "@") {
			return nil, fmt.Errorf("%w: a valid email address is required", common.ErrValidation)
		}
		req.Update.Email = &normalized
	}

	if err := s.store.Users.UpdateUser(ctx, req.TargetID, req.Update, s.now().UTC()); err != nil {
		return nil, err
	}
	u, err := s.store.Users.GetByID(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user account edited",
		"target_id", req.TargetID, "actor_id", req.ActorID)
	return userInfoFrom(u), nil
}

// SendSignupEmail generates a verification token, stashes it in the calling
// session's extra info, and emails it. Throttled to one send per 24h per
// account; throttled and unknown-account outcomes look identical outside.
func (s *Service) SendSignupEmail(ctx context.Context, email, sessionToken string) *Result {
	return s.sendEmailToken(ctx, email, sessionToken, verifyTokenKey,
		"Please verify your account sign-up request",
		"Hello! Use this verification token to complete your sign-up: ",
		func(u *models.User) sql.NullTime { return u.EmailVerifySent },
		s.store.Users.SetEmailVerifySent,
		// Only inactive accounts have a verification to complete.
		func(u *models.User) bool { return !u.IsActive },
	)
}

// SendForgotPassEmail generates a password-reset token, stashes it in the
// calling session's extra info, and emails it. Same throttling and
// existence-safety as SendSignupEmail.
func (s *Service) SendForgotPassEmail(ctx context.Context, email, sessionToken string) *Result {
	return s.sendEmailToken(ctx, email, sessionToken, forgotPassTokenKey,
		"Your password reset request",
		"Hello! Use this token to reset your password: ",
		func(u *models.User) sql.NullTime { return u.ForgotPassSent },
		s.store.Users.SetForgotPassSent,
		// Only active, verified accounts can reset a password.
		func(u *models.User) bool { return u.IsActive && u.EmailVerified },
	)
}

func (s *Service) sendEmailToken(
	ctx context.Context,
	email, sessionToken, tokenKey, subject, bodyPrefix string,
	lastSent func(*models.User) sql.NullTime,
	markSent func(context.Context, int64, time.Time) error,
	eligible func(*models.User) bool,
) *Result {
	email = normalizeEmail(email)
	now := s.now().UTC()

	// The acknowledgment is the same whether or not the account exists.
	ack := &Result{Success: false,
		Messages: []string{"If that account exists, an email is on its way."}}

	sess, err := s.store.Sessions.GetWithUser(ctx, sessionToken, now)
	if err != nil {
		return ack
	}

	u, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		return ack
	}
	if !eligible(u) {
		s.logger.Warn(ctx, "email token requested for ineligible account", "user_id", u.UserID)
		return ack
	}
	if sent := lastSent(u); sent.Valid && now.Sub(sent.Time) < emailResendWindow {
		s.logger.Warn(ctx, "email token resend throttled", "user_id", u.UserID)
		return ack
	}

	token, err := common.MakeRandURLSafeString(32)
	if err != nil {
		s.logger.Error(ctx, "token generation failed", "error", err)
		return ack
	}
	if err := s.stashSessionToken(ctx, sess, tokenKey, token, now); err != nil {
		s.logger.Error(ctx, "failed to stash email token in session", "error", err)
		return ack
	}

	if err := s.sender.Send(ctx, emailer.Message{
		To:      email,
		Subject: subject,
		Body:    bodyPrefix + token,
	}); err != nil {
		s.logger.Error(ctx, "email send failed", "user_id", u.UserID, "error", err)
		return ack
	}
	if err := markSent(ctx, u.UserID, now); err != nil {
		s.logger.Error(ctx, "failed to record email send time", "user_id", u.UserID, "error", err)
	}

	s.logger.Info(ctx, "account email token sent", "user_id", u.UserID)
	return &Result{Success: true, UserID: u.UserID, Messages: ack.Messages}
}

func (s *Service) stashSessionToken(ctx context.Context, sess *models.SessionUser, key, token string, now time.Time) error {
	extra := map[string]any{}
	if sess.ExtraInfo != "" {
		_ = json.Unmarshal([]byte(sess.ExtraInfo), &extra)
	}
	extra[key] = token
	raw, err := json.Marshal(extra)
	if err != nil {
		return err
	}
	return s.store.Sessions.UpdateExtraInfo(ctx, sess.Token, string(raw), now)
}

// CheckEmailToken compares a presented token against the one stashed in the
// session for the given flow ("signup" or "forgotpass"), in constant time.
// The frontend runs this before VerifyEmail or ResetPassword.
func (s *Service) CheckEmailToken(ctx context.Context, sessionToken, flow, presented string) bool {
	if presented == "" {
		return false
	}
	key := verifyTokenKey
	if flow == "forgotpass" {
		key = forgotPassTokenKey
	}

	sess, err := s.store.Sessions.GetWithUser(ctx, sessionToken, s.now().UTC())
	if err != nil {
		return false
	}
	extra := map[string]any{}
	if err := json.Unmarshal([]byte(sess.ExtraInfo), &extra); err != nil {
		return false
	}
	stored, _ := extra[key].(string)
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
