// Package authdb opens and bootstraps the credential store: schema
// migrations, the on-disk permission gate, and the repository set the rest of
// the server works through.
//
// Two dialects are supported. The default is a single SQLite file in WAL
// mode, shared by every worker through one database/sql pool (connections are
// established lazily on first use and cached for the pool's lifetime). A
// postgres:// DSN selects PostgreSQL instead.
package authdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/waqasbhatti/authnzerver/internal/authdb/migrations"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/dbx"
	"github.com/waqasbhatti/authnzerver/internal/repositories/apikeys"
	"github.com/waqasbhatti/authnzerver/internal/repositories/roles"
	"github.com/waqasbhatti/authnzerver/internal/repositories/sessions"
	"github.com/waqasbhatti/authnzerver/internal/repositories/users"
)

// Dialect identifies the backing database flavor.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store bundles the opened database with the repository set. All access to
// the credential tables goes through these repositories; there is no other
// mutation path.
type Store struct {
	DB      *sql.DB
	Dialect Dialect

	Users    users.Repository
	Sessions sessions.Repository
	APIKeys  apikeys.Repository
	Roles    roles.Repository
}

// Open connects to the credential store named by dsn, runs migrations, and
// returns the repository set. A dsn beginning with postgres:// or
// postgresql:// selects PostgreSQL; anything else is treated as a SQLite
// file path (":memory:" works for tests).
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return openPostgres(ctx, dsn)
	}
	return openSQLite(ctx, dsn)
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")

	if !inMemory {
		if err := checkFilePermissions(path); err != nil {
			return nil, err
		}
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") && !inMemory {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := runMigrations(ctx, db, DialectSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}

	if !inMemory {
		// The file now exists either way; clamp to owner read/write.
		if err := os.Chmod(strings.TrimPrefix(path, "file:"), 0o600); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db permissions error: %w", err)
		}
	}

	return &Store{
		DB:       db,
		Dialect:  DialectSQLite,
		Users:    users.NewSQLiteRepository(db),
		Sessions: sessions.NewSQLiteRepository(db),
		APIKeys:  apikeys.NewSQLiteRepository(db),
		Roles:    roles.NewSQLiteRepository(db),
	}, nil
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := runMigrations(ctx, db, DialectPostgres); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		DB:       db,
		Dialect:  DialectPostgres,
		Users:    users.NewPostgresRepository(db),
		Sessions: sessions.NewPostgresRepository(db),
		APIKeys:  apikeys.NewPostgresRepository(db),
		Roles:    roles.NewPostgresRepository(db),
	}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	switch dialect {
	case DialectSQLite:
		goose.SetBaseFS(migrations.SQLite)
		if err := goose.SetDialect("sqlite3"); err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
		if err := goose.UpContext(ctx, db, "sqlite"); err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
	case DialectPostgres:
		goose.SetBaseFS(migrations.Postgres)
		if err := goose.SetDialect("postgres"); err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
		if err := goose.UpContext(ctx, db, "postgres"); err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	return nil
}

// checkFilePermissions refuses a credential-store file whose mode grants any
// group/other access. This is a security control, not a convenience check:
// the file holds password hashes and live session tokens.
func checkFilePermissions(path string) error {
	info, err := os.Stat(strings.TrimPrefix(path, "file:"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("db stat error: %w", err)
	}

	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("%w: %s has mode %o, want 0600",
			common.ErrInsecurePermissions, path, info.Mode().Perm())
	}
	return nil
}

// usersForTx returns a users repository bound to the given handle, so writes
// can run inside a dbx.WithTx transaction instead of the pool.
func (s *Store) usersForTx(h dbx.DBTX) users.Repository {
	if s.Dialect == DialectPostgres {
		return users.NewPostgresRepository(h)
	}
	return users.NewSQLiteRepository(h)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
