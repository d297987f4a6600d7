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

// PostgresRepository implements Repository over the PostgreSQL dialect.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, k *models.APIKey) error {
	query := `INSERT INTO apikeys
		(apikey, user_id, session_token, issued, expires)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		k.Token, k.UserID, k.SessionToken, k.Issued, k.Expires)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetValid(ctx context.Context, token string, userID int64, now time.Time) (*models.APIKey, error) {
	query := `SELECT apikey, user_id, session_token, issued, expires
		FROM apikeys
		WHERE apikey = $1 AND user_id = $2 AND expires > $3`

	row := r.db.QueryRowContext(ctx, query, token, userID, now)

	var k models.APIKey
	err := row.Scan(&k.Token, &k.UserID, &k.SessionToken, &k.Issued, &k.Expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &k, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, token string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM apikeys WHERE apikey = $1`, token)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}
