package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/dbx"
	"github.com/waqasbhatti/authnzerver/internal/models"
)

// SQLiteRepository implements Repository over the SQLite dialect.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, s *models.Session) error {
	query := `INSERT INTO sessions
		(session_token, user_id, ip_address, client_header, created, expires,
		 extra_info_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		s.Token, s.UserID, s.IPAddress, s.ClientHeader,
		dbx.FormatSQLiteTime(s.Created), dbx.FormatSQLiteTime(s.Expires),
		s.ExtraInfo)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetWithUser joins sessions to users in a single query filtered on token
// equality and non-expiry, so callers get everything an authorization
// decision needs in one round trip.
func (r *SQLiteRepository) GetWithUser(ctx context.Context, token string, now time.Time) (*models.SessionUser, error) {
	query := `SELECT s.session_token, s.user_id, s.ip_address, s.client_header,
			s.created, s.expires, s.extra_info_json,
			u.email, u.full_name, u.email_verified, u.is_active, u.user_role,
			u.last_login_try, u.last_login_success, u.failed_login_tries
		FROM sessions s JOIN users u ON u.user_id = s.user_id
		WHERE s.session_token = ? AND s.expires > ?`

	row := r.db.QueryRowContext(ctx, query, token, dbx.FormatSQLiteTime(now))

	var (
		su                         models.SessionUser
		created, expires           string
		lastLoginTry, lastLoginSuc sql.NullString
	)
	err := row.Scan(&su.Token, &su.UserID, &su.IPAddress, &su.ClientHeader,
		&created, &expires, &su.ExtraInfo,
		&su.Email, &su.FullName, &su.EmailVerified, &su.IsActive, &su.UserRole,
		&lastLoginTry, &lastLoginSuc, &su.FailedLoginTries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if su.Created, err = dbx.ParseSQLiteTime(created); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if su.Expires, err = dbx.ParseSQLiteTime(expires); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if su.LastLoginTry, err = dbx.ParseSQLiteNullTime(lastLoginTry); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if su.LastLoginSuccess, err = dbx.ParseSQLiteNullTime(lastLoginSuc); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &su, nil
}

func (r *SQLiteRepository) UpdateExtraInfo(ctx context.Context, token string, extraInfo string, now time.Time) error {
	query := `UPDATE sessions SET extra_info_json = ?
		WHERE session_token = ? AND expires > ?`

	res, err := r.db.ExecContext(ctx, query, extraInfo, token, dbx.FormatSQLiteTime(now))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, token string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_token = ?`, token)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}

func (r *SQLiteRepository) CountForUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires < ?`, dbx.FormatSQLiteTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}
