package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/waqasbhatti/authnzerver/internal/authdb"
	"github.com/waqasbhatti/authnzerver/internal/config"
	"github.com/waqasbhatti/authnzerver/internal/envelope"
	"github.com/waqasbhatti/authnzerver/internal/passwd"
)

// Autosetup prepares a fresh deployment: it writes the envelope secret file
// (unless one exists), creates the credential store with its schema, and
// seeds the roles, the reserved accounts, and the superuser.
//
// superuserPassword may be empty, in which case one is generated; either way
// the password is in the returned BootstrapInfo and is not otherwise
// recoverable. Running against an already-initialized deployment is safe and
// changes nothing.
func Autosetup(ctx context.Context, cfg *config.Config, superuserPassword string) (*authdb.BootstrapInfo, error) {
	if err := ensureParentDir(cfg.SecretFile); err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.SecretFile); os.IsNotExist(err) {
		key, err := envelope.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := envelope.WriteKeyFile(cfg.SecretFile, key); err != nil {
			return nil, fmt.Errorf("writing envelope secret: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(cfg.DatabaseDSN, "postgres://") &&
		!strings.HasPrefix(cfg.DatabaseDSN, "postgresql://") {
		if err := ensureParentDir(cfg.DatabaseDSN); err != nil {
			return nil, err
		}
	}

	store, err := authdb.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	defer func() { _ = store.Close() }()

	hasher := passwd.NewArgon2(passwd.DefaultArgon2Params())
	info, err := store.Bootstrap(ctx, hasher, cfg.SuperuserEmail, superuserPassword)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}
