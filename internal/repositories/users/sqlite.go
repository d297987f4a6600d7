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

// SQLiteRepository implements Repository over the SQLite dialect. Timestamps
// are stored as fixed-width UTC text.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const sqliteUserColumns = `user_id, full_name, email, password, email_verified,
 is_active, user_role, created_on, last_updated, emailverify_sent_datetime,
 emailforgotpass_sent_datetime, last_login_try, last_login_success,
 failed_login_tries`

func (r *SQLiteRepository) Insert(ctx context.Context, u *models.User) (int64, error) {
	query := `INSERT INTO users
		(full_name, email, password, email_verified, is_active, user_role,
		 created_on, last_updated, emailverify_sent_datetime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		u.FullName, u.Email, u.Password, u.EmailVerified, u.IsActive, u.UserRole,
		dbx.FormatSQLiteTime(u.CreatedOn), dbx.FormatSQLiteTime(u.LastUpdated),
		dbx.FormatSQLiteNullTime(u.EmailVerifySent))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return 0, common.ErrAlreadyExists
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) InsertWithID(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users
		(user_id, full_name, email, password, email_verified, is_active,
		 user_role, created_on, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		u.UserID, u.FullName, u.Email, u.Password, u.EmailVerified, u.IsActive,
		u.UserRole, dbx.FormatSQLiteTime(u.CreatedOn), dbx.FormatSQLiteTime(u.LastUpdated))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	query := `SELECT ` + sqliteUserColumns + ` FROM users WHERE user_id = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, userID))
}

func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + sqliteUserColumns + ` FROM users WHERE email = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *SQLiteRepository) GetActiveVerifiedByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + sqliteUserColumns + ` FROM users
		WHERE email = ? AND is_active = 1 AND email_verified = 1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *SQLiteRepository) List(ctx context.Context, userIDs []int64) ([]models.User, error) {
	query := `SELECT ` + sqliteUserColumns + ` FROM users`
	args := make([]any, 0, len(userIDs))
	if len(userIDs) > 0 {
		query += ` WHERE user_id IN (?` + strings.Repeat(",?", len(userIDs)-1) + `)`
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Activate(ctx context.Context, email string, now time.Time) (*models.User, error) {
	query := `UPDATE users
		SET is_active = 1, email_verified = 1, user_role = ?, last_updated = ?
		WHERE email = ? AND is_active = 0`

	res, err := r.db.ExecContext(ctx, query,
		models.RoleAuthenticated, dbx.FormatSQLiteTime(now), email)
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

func (r *SQLiteRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string, now time.Time) error {
	query := `UPDATE users SET password = ?, last_updated = ? WHERE user_id = ?`
	return r.execExpectingRow(ctx, query, passwordHash, dbx.FormatSQLiteTime(now), userID)
}

func (r *SQLiteRepository) UpdateUser(ctx context.Context, userID int64, upd Update, now time.Time) error {
	sets := []string{"last_updated = ?"}
	args := []any{dbx.FormatSQLiteTime(now)}

	if upd.FullName != nil {
		sets = append(sets, "full_name = ?")
		args = append(args, *upd.FullName)
	}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *upd.IsActive)
	}
	if upd.EmailVerified != nil {
		sets = append(sets, "email_verified = ?")
		args = append(args, *upd.EmailVerified)
	}
	if upd.UserRole != nil {
		sets = append(sets, "user_role = ?")
		args = append(args, *upd.UserRole)
	}

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE user_id = ?`
	args = append(args, userID)
	return r.execExpectingRow(ctx, query, args...)
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID int64) error {
	return r.execExpectingRow(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
}

func (r *SQLiteRepository) RecordLoginAttempt(ctx context.Context, userID int64, at time.Time, success bool) error {
	ts := dbx.FormatSQLiteTime(at)
	if success {
		query := `UPDATE users
			SET last_login_try = ?, last_login_success = ?, failed_login_tries = 0
			WHERE user_id = ?`
		return r.execExpectingRow(ctx, query, ts, ts, userID)
	}
	query := `UPDATE users
		SET last_login_try = ?, failed_login_tries = failed_login_tries + 1
		WHERE user_id = ?`
	return r.execExpectingRow(ctx, query, ts, userID)
}

func (r *SQLiteRepository) SetEmailVerifySent(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET emailverify_sent_datetime = ? WHERE user_id = ?`
	return r.execExpectingRow(ctx, query, dbx.FormatSQLiteTime(at), userID)
}

func (r *SQLiteRepository) SetForgotPassSent(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET emailforgotpass_sent_datetime = ? WHERE user_id = ?`
	return r.execExpectingRow(ctx, query, dbx.FormatSQLiteTime(at), userID)
}

func (r *SQLiteRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
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

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (*models.User, error) {
	u, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func scanUserRow(row rowScanner) (*models.User, error) {
	var (
		u                          models.User
		createdOn, lastUpdated     string
		verifySent, forgotSent     sql.NullString
		lastLoginTry, lastLoginSuc sql.NullString
	)

	err := row.Scan(&u.UserID, &u.FullName, &u.Email, &u.Password,
		&u.EmailVerified, &u.IsActive, &u.UserRole, &createdOn, &lastUpdated,
		&verifySent, &forgotSent, &lastLoginTry, &lastLoginSuc,
		&u.FailedLoginTries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if u.CreatedOn, err = dbx.ParseSQLiteTime(createdOn); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if u.LastUpdated, err = dbx.ParseSQLiteTime(lastUpdated); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if u.EmailVerifySent, err = dbx.ParseSQLiteNullTime(verifySent); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if u.ForgotPassSent, err = dbx.ParseSQLiteNullTime(forgotSent); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if u.LastLoginTry, err = dbx.ParseSQLiteNullTime(lastLoginTry); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if u.LastLoginSuccess, err = dbx.ParseSQLiteNullTime(lastLoginSuc); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &u, nil
}
