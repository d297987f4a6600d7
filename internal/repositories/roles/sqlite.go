package roles

import (
	"context"
	"fmt"

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

func (r *SQLiteRepository) Seed(ctx context.Context) error {
	query := `INSERT INTO roles (role_name, description) VALUES (?, ?)
		ON CONFLICT (role_name) DO NOTHING`
	for _, role := range seedRoles {
		if _, err := r.db.ExecContext(ctx, query, role.Name, role.Description); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role_name, description FROM roles ORDER BY role_name`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Role
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.Name, &role.Description); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
