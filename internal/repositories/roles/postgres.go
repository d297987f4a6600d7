package roles

import (
	"context"
	"fmt"

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

func (r *PostgresRepository) Seed(ctx context.Context) error {
	query := `INSERT INTO roles (role_name, description) VALUES ($1, $2)
		ON CONFLICT (role_name) DO NOTHING`
	for _, role := range seedRoles {
		if _, err := r.db.ExecContext(ctx, query, role.Name, role.Description); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.Role, error) {
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
