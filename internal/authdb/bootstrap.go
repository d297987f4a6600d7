package authdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/dbx"
	"github.com/waqasbhatti/authnzerver/internal/models"
	"github.com/waqasbhatti/authnzerver/internal/passwd"
)

// BootstrapInfo reports the credentials generated by Bootstrap. The
// superuser password is returned exactly once and stored only as a hash.
type BootstrapInfo struct {
	SuperuserEmail    string
	SuperuserPassword string
}

// Bootstrap seeds a fresh credential store: the five fixed roles, the
// superuser (id 1), the permanent anonymous user (id 2), and the permanent
// locked dummy user (id 3) whose hash absorbs timing cost during failed
// lookups. Calling Bootstrap on an already-seeded store is a no-op returning
// (nil, nil).
//
// superuserPassword may be empty, in which case a random password is
// generated.
func (s *Store) Bootstrap(ctx context.Context, hasher passwd.Hasher, superuserEmail, superuserPassword string) (*BootstrapInfo, error) {
	if err := s.Roles.Seed(ctx); err != nil {
		return nil, err
	}

	_, err := s.Users.GetByID(ctx, common.SuperuserID)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if superuserPassword == "" {
		superuserPassword, err = common.MakeRandHexString(16)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()

	superHash, err := hasher.Hash(superuserPassword)
	if err != nil {
		return nil, err
	}
	// The anonymous and dummy accounts get independent random passwords
	// that are hashed and then discarded: nobody ever logs into them.
	anonHash, err := hashThrowawayPassword(hasher)
	if err != nil {
		return nil, err
	}
	dummyHash, err := hashThrowawayPassword(hasher)
	if err != nil {
		return nil, err
	}

	seeds := []models.User{
		{
			UserID:        common.SuperuserID,
			FullName:      sql.NullString{String: "authnzerver admin", Valid: true},
			Email:         superuserEmail,
			Password:      superHash,
			EmailVerified: true,
			IsActive:      true,
			UserRole:      models.RoleSuperuser,
			CreatedOn:     now,
			LastUpdated:   now,
		},
		{
			UserID:        common.AnonymousUserID,
			Email:         "anonuser@localhost",
			Password:      anonHash,
			EmailVerified: false,
			IsActive:      true,
			UserRole:      models.RoleAnonymous,
			CreatedOn:     now,
			LastUpdated:   now,
		},
		{
			UserID:        common.DummyUserID,
			Email:         "dummyuser@localhost",
			Password:      dummyHash,
			EmailVerified: false,
			IsActive:      false,
			UserRole:      models.RoleLocked,
			CreatedOn:     now,
			LastUpdated:   now,
		},
	}

	// Seed atomically: a partial set of reserved users (say, a superuser
	// without the dummy) would leave the store half-initialized.
	err = dbx.WithTx(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.usersForTx(tx)
		for i := range seeds {
			if err := repo.InsertWithID(ctx, &seeds[i]); err != nil {
				return err
			}
		}

		if s.Dialect == DialectPostgres {
			// Explicit ids bypass the identity sequence; move it past them
			// so the first signup does not collide.
			_, err := tx.ExecContext(ctx,
				`SELECT setval(pg_get_serial_sequence('users', 'user_id'),
					(SELECT MAX(user_id) FROM users))`)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &BootstrapInfo{
		SuperuserEmail:    superuserEmail,
		SuperuserPassword: superuserPassword,
	}, nil
}

func hashThrowawayPassword(hasher passwd.Hasher) (string, error) {
	pw, err := common.MakeRandURLSafeString(32)
	if err != nil {
		return "", err
	}
	return hasher.Hash(pw)
}
