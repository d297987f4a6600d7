// Package apikeys issues and verifies API keys. A key is handed out as a
// self-describing signed JWT so most verifications need no database round
// trip; a server-side row backs each key for revocation and as the source
// of truth for the embedded random token.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/waqasbhatti/authnzerver/internal/authdb"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/models"
)

// Version identifies the claim layout of issued keys.
const Version = 1

// DefaultExpiresDays is the key lifetime when the caller does not pick one.
const DefaultExpiresDays = 30

// Claims is the signed payload of an issued key bundle.
type Claims struct {
	Ver int    `json:"ver"`
	UID int64  `json:"uid"`
	Rol string `json:"rol"`
	Clt string `json:"clt"`
	IPA string `json:"ipa"`
	Tkn string `json:"tkn"`
	jwt.RegisteredClaims
}

// IssueRequest describes a key issuance. Every field must match the session
// on record exactly; a key can only be minted by the client that holds the
// session.
type IssueRequest struct {
	SessionToken string
	UserID       int64
	UserRole     string
	IPAddress    string
	ClientHeader string
	ExpiresDays  int
}

// IssueResult carries the signed bundle back to the caller.
type IssueResult struct {
	Bundle  string
	Expires time.Time
}

// VerifyResult is the validated identity bound to a presented key.
type VerifyResult struct {
	UserID   int64
	UserRole string
	Expires  time.Time
}

// Service issues and verifies API key bundles.
type Service struct {
	store  *authdb.Store
	secret []byte
	logger logging.Logger
	now    func() time.Time
}

// NewService builds the API key service. The secret signs and verifies the
// HS256 bundles and must be at least 32 bytes.
func NewService(store *authdb.Store, secret []byte, logger logging.Logger) (*Service, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("api key signing secret must be at least 32 bytes, have %d", len(secret))
	}
	return &Service{store: store, secret: secret, logger: logger, now: time.Now}, nil
}

// Issue mints a key for the holder of sessionToken. The request's user id,
// role, IP address, and client header must all equal the session's recorded
// values; any mismatch is an authorization failure, not a validation one.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	now := s.now().UTC()

	sess, err := s.store.Sessions.GetWithUser(ctx, req.SessionToken, now)
	if err != nil {
		return nil, common.ErrUnauthorized
	}
	if sess.UserID != req.UserID ||
		sess.UserRole != req.UserRole ||
		sess.IPAddress != req.IPAddress ||
		sess.ClientHeader != req.ClientHeader {
		s.logger.Warn(ctx, "api key request did not match its session",
			"session_user", sess.UserID, "claimed_user", req.UserID)
		return nil, common.ErrUnauthorized
	}
	if sess.UserRole == models.RoleLocked || sess.UserRole == models.RoleAnonymous {
		return nil, common.ErrUnauthorized
	}

	days := req.ExpiresDays
	if days <= 0 {
		days = DefaultExpiresDays
	}
	expires := now.AddDate(0, 0, days)

	token, err := common.MakeRandURLSafeString(32)
	if err != nil {
		return nil, err
	}
	if err := s.store.APIKeys.Insert(ctx, &models.APIKey{
		Token:        token,
		UserID:       req.UserID,
		SessionToken: req.SessionToken,
		Issued:       now,
		Expires:      expires,
	}); err != nil {
		return nil, err
	}

	claims := Claims{
		Ver: Version,
		UID: req.UserID,
		Rol: req.UserRole,
		Clt: req.ClientHeader,
		IPA: req.IPAddress,
		Tkn: token,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	bundle, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing api key bundle: %w", err)
	}

	s.logger.Info(ctx, "api key issued",
		"user_id", req.UserID, "expires", expires.Format(time.RFC3339))
	return &IssueResult{Bundle: bundle, Expires: expires}, nil
}

// Verify checks a presented bundle: signature, claim expiry, and then the
// server-side row, which must exist for the (token, user id) pair and be
// unexpired itself. A revoked key fails here no matter what its claims say.
func (s *Service) Verify(ctx context.Context, bundle string) (*VerifyResult, error) {
	claims, err := s.parseBundle(bundle)
	if err != nil {
		return nil, err
	}

	row, err := s.store.APIKeys.GetValid(ctx, claims.Tkn, claims.UID, s.now().UTC())
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, err
	}

	return &VerifyResult{
		UserID:   claims.UID,
		UserRole: claims.Rol,
		Expires:  row.Expires,
	}, nil
}

// Revoke deletes the server-side row behind a bundle so later verifications
// fail. Only the key's own user may revoke it.
func (s *Service) Revoke(ctx context.Context, bundle string, userID int64) error {
	claims, err := s.parseBundle(bundle)
	if err != nil {
		return err
	}
	if claims.UID != userID {
		return common.ErrUnauthorized
	}
	n, err := s.store.APIKeys.Delete(ctx, claims.Tkn)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	s.logger.Info(ctx, "api key revoked", "user_id", userID)
	return nil
}

func (s *Service) parseBundle(bundle string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(bundle, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	if claims.Ver != Version || claims.Tkn == "" || claims.UID <= 0 {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
