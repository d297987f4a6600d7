// Package roles persists the fixed role rows referenced by users.user_role.
package roles

import (
	"context"

	"github.com/waqasbhatti/authnzerver/internal/models"
)

// Repository is the roles table contract.
type Repository interface {
	// Seed inserts the five fixed roles, skipping any that already exist.
	Seed(ctx context.Context) error

	List(ctx context.Context) ([]models.Role, error)
}

// seedRoles is what Seed writes on a fresh database.
var seedRoles = []models.Role{
	{Name: models.RoleSuperuser, Description: "all objects, all operations"},
	{Name: models.RoleStaff, Description: "moderation over others' resources"},
	{Name: models.RoleAuthenticated, Description: "own resources plus shared/public"},
	{Name: models.RoleAnonymous, Description: "public resources and own datasets"},
	{Name: models.RoleLocked, Description: "no operations permitted"},
}
