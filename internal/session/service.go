// Package session implements the session manager: creation, lookup, extra
// info updates, deletion, and the periodic retention sweep.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/waqasbhatti/authnzerver/internal/authdb"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/models"
)

// DefaultRetentionDays is the sweep window: sessions whose expiry is older
// than this many days are removed regardless of anything else.
const DefaultRetentionDays = 7

// Service manages session rows. All methods are safe for concurrent use.
type Service struct {
	store  *authdb.Store
	logger logging.Logger
	now    func() time.Time
}

// NewService builds a session Service over the given store.
func NewService(store *authdb.Store, logger logging.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// New creates a session for userID (the anonymous user when userID is zero
// or negative), returning the persisted row with its generated token.
//
// The IP address must parse and the client header must be non-empty; both
// are recorded for API key issuance checks later.
func (s *Service) New(ctx context.Context, userID int64, ipAddress, clientHeader string, expires time.Time, extraInfo map[string]any) (*models.Session, error) {
	if net.ParseIP(ipAddress) == nil {
		return nil, fmt.Errorf("%w: unparseable IP address", common.ErrValidation)
	}
	if clientHeader == "" {
		return nil, fmt.Errorf("%w: empty client header", common.ErrValidation)
	}
	now := s.now().UTC()
	if !expires.After(now) {
		return nil, fmt.Errorf("%w: session expiry not in the future", common.ErrValidation)
	}

	if userID <= 0 {
		userID = common.AnonymousUserID
	}

	token, err := common.MakeRandURLSafeString(32)
	if err != nil {
		return nil, err
	}

	extraJSON := "{}"
	if len(extraInfo) > 0 {
		raw, err := json.Marshal(extraInfo)
		if err != nil {
			return nil, fmt.Errorf("%w: unserializable extra info", common.ErrValidation)
		}
		extraJSON = string(raw)
	}

	sess := &models.Session{
		Token:        token,
		UserID:       userID,
		IPAddress:    ipAddress,
		ClientHeader: clientHeader,
		Created:      now,
		Expires:      expires.UTC(),
		ExtraInfo:    extraJSON,
	}
	if err := s.store.Sessions.Insert(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "session created",
		"user_id", userID, "expires", sess.Expires.Format(time.RFC3339))
	return sess, nil
}

// Exists returns the joined session+user view for a valid token. An expired
// session is indistinguishable from a missing one: both are ErrNotFound.
func (s *Service) Exists(ctx context.Context, token string) (*models.SessionUser, error) {
	if token == "" {
		return nil, common.ErrNotFound
	}
	return s.store.Sessions.GetWithUser(ctx, token, s.now().UTC())
}

// SetExtraInfo merges info into the session's extra-info blob and returns
// the refreshed joined view. Keys set to nil are removed.
func (s *Service) SetExtraInfo(ctx context.Context, token string, info map[string]any) (*models.SessionUser, error) {
	current, err := s.Exists(ctx, token)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if current.ExtraInfo != "" {
		if err := json.Unmarshal([]byte(current.ExtraInfo), &merged); err != nil {
			// A corrupt blob is replaced rather than propagated.
			s.logger.Warn(ctx, "session extra info was not valid JSON, replacing")
			merged = map[string]any{}
		}
	}
	for k, v := range info {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: unserializable extra info", common.ErrValidation)
	}

	if err := s.store.Sessions.UpdateExtraInfo(ctx, token, string(raw), s.now().UTC()); err != nil {
		return nil, err
	}
	return s.Exists(ctx, token)
}

// Delete removes a session. Deleting a token that does not exist is not a
// crash: it returns ErrNotFound so the caller can report an invalid request.
func (s *Service) Delete(ctx context.Context, token string) error {
	if token == "" {
		return common.ErrNotFound
	}
	n, err := s.store.Sessions.Delete(ctx, token)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Sweep bulk-deletes sessions whose expiry is older than olderThanDays
// (DefaultRetentionDays when zero or negative) and returns the count. A
// zero-match sweep is a normal outcome.
func (s *Service) Sweep(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = DefaultRetentionDays
	}
	cutoff := s.now().UTC().AddDate(0, 0, -olderThanDays)

	n, err := s.store.Sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		s.logger.Info(ctx, "session sweep found nothing to do")
	} else {
		s.logger.Info(ctx, "session sweep removed stale sessions", "count", n)
	}
	return n, nil
}

// IsNotFound reports whether err means a missing or expired session.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
