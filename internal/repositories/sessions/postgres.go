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

// PostgresRepository implements Repository over the PostgreSQL dialect.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, s *models.Session) error {
	query := `INSERT INTO sessions
		(session_token, user_id, ip_address, client_header, created, expires,
		 extra_info_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		s.Token, s.UserID, s.IPAddress, s.ClientHeader, s.Created, s.Expires,
		s.ExtraInfo)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetWithUser(ctx context.Context, token string, now time.Time) (*models.SessionUser, error) {
	query := `SELECT s.session_token, s.user_id, s.ip_address, s.client_header,
			s.created, s.expires, s.extra_info_json,
			u.email, u.full_name, u.email_verified, u.is_active, u.user_role,
			u.last_login_try, u.last_login_success, u.failed_login_tries
		FROM sessions s JOIN users u ON u.user_id = s.user_id
		WHERE s.session_token = $1 AND s.expires > $2`

	row := r.db.QueryRowContext(ctx, query, token, now)

	var su models.SessionUser
	err := row.Scan(&su.Token, &su.UserID, &su.IPAddress, &su.ClientHeader,
		&su.Created, &su.Expires, &su.ExtraInfo,
		&su.Email, &su.FullName, &su.EmailVerified, &su.IsActive, &su.UserRole,
		&su.LastLoginTry, &su.LastLoginSuccess, &su.FailedLoginTries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &su, nil
}

func (r *PostgresRepository) UpdateExtraInfo(ctx context.Context, token string, extraInfo string, now time.Time) error {
	query := `UPDATE sessions SET extra_info_json = $1
		WHERE session_token = $2 AND expires > $3`

	res, err := r.db.ExecContext(ctx, query, extraInfo, token, now)
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

func (r *PostgresRepository) Delete(ctx context.Context, token string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_token = $1`, token)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}

func (r *PostgresRepository) CountForUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}
