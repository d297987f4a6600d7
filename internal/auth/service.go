// Package auth implements password authentication over sessions: login,
// password recheck, and logout.
//
// Every failure path performs the same argon2 verification work as the
// success path, so response timing does not reveal whether an account
// exists, is inactive, or merely has the wrong password. External messages
// are a single generic string for the same reason.
package auth

import (
	"context"
	"time"

	"github.com/waqasbhatti/authnzerver/internal/authdb"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/models"
	"github.com/waqasbhatti/authnzerver/internal/passwd"
)

// fallbackHash is a syntactically valid argon2id hash verified when even the
// dummy user row cannot be read, so a database outage still costs a hash.
const fallbackHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Result is the outcome of an authentication operation. Failures carry only
// the generic message regardless of cause.
type Result struct {
	Success  bool
	UserID   int64
	UserRole string
	Messages []string
}

// Service is the authentication engine.
type Service struct {
	store  *authdb.Store
	hasher passwd.Hasher
	logger logging.Logger
	now    func() time.Time
}

// NewService builds the authentication engine over the given store and
// password hasher.
func NewService(store *authdb.Store, hasher passwd.Hasher, logger logging.Logger) *Service {
	return &Service{store: store, hasher: hasher, logger: logger, now: time.Now}
}

func failResult() *Result {
	return &Result{Success: false, Messages: []string{common.AuthFailMessage}}
}

// payFixedCost runs one argon2 verification against the reserved dummy
// user's hash. Called on every path that skips the real verification so all
// outcomes cost the same.
func (s *Service) payFixedCost(ctx context.Context) {
	hash := fallbackHash
	if dummy, err := s.store.Users.GetByID(ctx, common.DummyUserID); err == nil {
		hash = dummy.Password
	} else {
		s.logger.Error(ctx, "dummy user lookup failed, using fallback hash", "error", err)
	}
	if _, err := s.hasher.Verify("fixed-cost-probe", hash); err != nil {
		s.logger.Error(ctx, "fixed-cost verification errored", "error", err)
	}
}

// Login authenticates email and password in the context of an existing
// session. The presented session is deleted whatever the outcome, so the
// caller must establish a fresh session afterwards.
func (s *Service) Login(ctx context.Context, sessionToken, email, password string) *Result {
	now := s.now().UTC()

	// The session is consumed regardless of how authentication goes.
	defer func() {
		if sessionToken == "" {
			return
		}
		if _, err := s.store.Sessions.Delete(ctx, sessionToken); err != nil {
			s.logger.Error(ctx, "failed to delete session after login", "error", err)
		}
	}()

	if _, err := s.store.Sessions.GetWithUser(ctx, sessionToken, now); err != nil {
		s.payFixedCost(ctx)
		return failResult()
	}

	user, err := s.store.Users.GetActiveVerifiedByEmail(ctx, email)
	if err != nil {
		// Missing, inactive, and unverified accounts all land here.
		s.payFixedCost(ctx)
		return failResult()
	}
	if user.UserRole == models.RoleLocked {
		s.payFixedCost(ctx)
		return failResult()
	}

	ok, err := s.hasher.Verify(password, user.Password)
	if err != nil {
		s.logger.Error(ctx, "password verification errored", "user_id", user.UserID, "error", err)
		ok = false
	}
	if rerr := s.store.Users.RecordLoginAttempt(ctx, user.UserID, now, ok); rerr != nil {
		s.logger.Error(ctx, "failed to record login attempt", "user_id", user.UserID, "error", rerr)
	}
	if !ok {
		return failResult()
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.UserID)
	return &Result{
		Success:  true,
		UserID:   user.UserID,
		UserRole: user.UserRole,
		Messages: []string{"Login successful."},
	}
}

// PasswordRecheck re-verifies the password of the account bound to an
// existing session, for step-up confirmation of sensitive actions. The
// session survives the check.
func (s *Service) PasswordRecheck(ctx context.Context, sessionToken, password string) *Result {
	now := s.now().UTC()

	sess, err := s.store.Sessions.GetWithUser(ctx, sessionToken, now)
	if err != nil {
		s.payFixedCost(ctx)
		return failResult()
	}

	user, err := s.store.Users.GetByID(ctx, sess.UserID)
	if err != nil {
		s.payFixedCost(ctx)
		return failResult()
	}

	ok, err := s.hasher.Verify(password, user.Password)
	if err != nil {
		s.logger.Error(ctx, "password verification errored", "user_id", user.UserID, "error", err)
		ok = false
	}
	if !ok {
		return failResult()
	}
	return &Result{
		Success:  true,
		UserID:   user.UserID,
		UserRole: user.UserRole,
		Messages: []string{"Password verification successful."},
	}
}

// Logout deletes the session, but only when it belongs to the claimed user
// id. A mismatched or missing session is an ordinary failure.
func (s *Service) Logout(ctx context.Context, sessionToken string, userID int64) *Result {
	now := s.now().UTC()

	sess, err := s.store.Sessions.GetWithUser(ctx, sessionToken, now)
	if err != nil || sess.UserID != userID {
		return failResult()
	}

	if _, err := s.store.Sessions.Delete(ctx, sessionToken); err != nil {
		s.logger.Error(ctx, "failed to delete session on logout", "error", err)
		return failResult()
	}

	s.logger.Info(ctx, "user logged out", "user_id", userID)
	return &Result{
		Success:  true,
		UserID:   userID,
		UserRole: sess.UserRole,
		Messages: []string{"Logout successful."},
	}
}
