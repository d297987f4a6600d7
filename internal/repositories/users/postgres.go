package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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

const pgUserColumns = `user_id, full_name, email, password, email_verified,
 is_active, user_role, created_on, last_updated, emailverify_sent_datetime,
 emailforgotpass_sent_datetime, last_login_try, last_login_success,
 failed_login_tries`

func (r *PostgresRepository) Insert(ctx context.Context, u *models.User) (int64, error) {
	query := `INSERT INTO users
		(full_name, email, password, email_verified, is_active, user_role,
		 created_on, last_updated, emailverify_sent_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO NOTHING
		RETURNING user_id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		u.FullName, u.Email, u.Password, u.EmailVerified, u.IsActive, u.UserRole,
		u.CreatedOn, u.LastUpdated, u.EmailVerifySent).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrAlreadyExists
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) InsertWithID(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users
		(user_id, full_name, email, password, email_verified, is_active,
		 user_role, created_on, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		u.UserID, u.FullName, u.Email, u.Password, u.EmailVerified, u.IsActive,
		u.UserRole, u.CreatedOn, u.LastUpdated)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	query := `SELECT ` + pgUserColumns + ` FROM users WHERE user_id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, userID))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + pgUserColumns + ` FROM users WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetActiveVerifiedByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + pgUserColumns + ` FROM users
		WHERE email = $1 AND is_active AND email_verified`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) List(ctx context.Context, userIDs []int64) ([]models.User, error) {
	query := `SELECT ` + pgUserColumns + ` FROM users`
	args := make([]any, 0, len(userIDs))
	if len(userIDs) > 0 {
		placeholders := make([]string, len(userIDs))
		for i, id := range userIDs {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, id)
		}
		query += ` WHERE user_id IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.UserID, &u.FullName, &u.Email, &u.Password,
			&u.EmailVerified, &u.IsActive, &u.UserRole, &u.CreatedOn,
			&u.LastUpdated, &u.EmailVerifySent, &u.ForgotPassSent,
			&u.LastLoginTry, &u.LastLoginSuccess, &u.FailedLoginTries); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Activate(ctx context.Context, email string, now time.Time) (*models.User, error) {
	query := `UPDATE users
		SET is_active = TRUE, email_verified = TRUE, user_role = $1, last_updated = $2
		WHERE email = $3 AND NOT is_active`

	res, err := r.db.ExecContext(ctx, query, models.RoleAuthenticated, now, email)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return nil, common.ErrNotFound
	}
	return r.GetByEmail(ctx, email)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string, now time.Time) error {
	query := `UPDATE users SET password = $1, last_updated = $2 WHERE user_id = $3`
	return r.execExpectingRow(ctx, query, passwordHash, now, userID)
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, userID int64, upd Update, now time.Time) error {
	sets := []string{"last_updated = $1"}
	args := []any{now}

	addSet := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.FullName != nil {
		addSet("full_name", *upd.FullName)
	}
	if upd.Email != nil {
		addSet("email", *upd.Email)
	}
	if upd.IsActive != nil {
		addSet("is_active", *upd.IsActive)
	}
	if upd.EmailVerified != nil {
		addSet("email_verified", *upd.EmailVerified)
	}
	if upd.UserRole != nil {
		addSet("user_role", *upd.UserRole)
	}

	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE user_id = $%d`,
		strings.Join(sets, ", "), len(args))
	return r.execExpectingRow(ctx, query, args...)
}

func (r *PostgresRepository) Delete(ctx context.Context, userID int64) error {
	return r.execExpectingRow(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) RecordLoginAttempt(ctx context.Context, userID int64, at time.Time, success bool) error {
	if success {
		query := `UPDATE users
			SET last_login_try = $1, last_login_success = $1, failed_login_tries = 0
			WHERE user_id = $2`
		return r.execExpectingRow(ctx, query, at, userID)
	}
	query := `UPDATE users
		SET last_login_try = $1, failed_login_tries = failed_login_tries + 1
		WHERE user_id = $2`
	return r.execExpectingRow(ctx, query, at, userID)
}

func (r *PostgresRepository) SetEmailVerifySent(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET emailverify_sent_datetime = $1 WHERE user_id = $2`
	return r.execExpectingRow(ctx, query, at, userID)
}

func (r *PostgresRepository) SetForgotPassSent(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET emailforgotpass_sent_datetime = $1 WHERE user_id = $2`
	return r.execExpectingRow(ctx, query, at, userID)
}

func (r *PostgresRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *PostgresRepository) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.UserID, &u.FullName, &u.Email, &u.Password,
		&u.EmailVerified, &u.IsActive, &u.UserRole, &u.CreatedOn,
		&u.LastUpdated, &u.EmailVerifySent, &u.ForgotPassSent,
		&u.LastLoginTry, &u.LastLoginSuccess, &u.FailedLoginTries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &u, nil
}
