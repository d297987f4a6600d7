package apikeys

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

func (r *SQLiteRepository) Insert(ctx context.Context, k *models.APIKey) error {
	query := `INSERT INTO apikeys
		(apikey, user_id, session_token, issued, expires)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		k.Token, k.UserID, k.SessionToken,
		dbx.FormatSQLiteTime(k.Issued), dbx.FormatSQLiteTime(k.Expires))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetValid(ctx context.Context, token string, userID int64, now time.Time) (*models.APIKey, error) {
	query := `SELECT apikey, user_id, session_token, issued, expires
		FROM apikeys
		WHERE apikey = ? AND user_id = ? AND expires > ?`

	row := r.db.QueryRowContext(ctx, query, token, userID, dbx.FormatSQLiteTime(now))

	var (
		k               models.APIKey
		issued, expires string
	)
	err := row.Scan(&k.Token, &k.UserID, &k.SessionToken, &issued, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if k.Issued, err = dbx.ParseSQLiteTime(issued); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if k.Expires, err = dbx.ParseSQLiteTime(expires); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &k, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, token string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM apikeys WHERE apikey = ?`, token)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}
