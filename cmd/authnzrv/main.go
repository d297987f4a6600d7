package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/config"
	"github.com/waqasbhatti/authnzerver/internal/server"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.Autosetup {
		if err := autosetup(ctx, cfg); err != nil {
			log.Printf("autosetup failed: %v", err)
			os.Exit(1)
		}
		return
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// autosetup initializes the deployment, prompting for a superuser password
// when running on a terminal. An empty password means one is generated and
// printed once.
func autosetup(ctx context.Context, cfg *config.Config) error {
	var password string

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Printf("superuser password for %s (empty to generate one): ", cfg.SuperuserEmail)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return err
		}
		password = string(raw)
		common.WipeByteArray(raw)
	}

	info, err := server.Autosetup(ctx, cfg, password)
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Println("deployment is already initialized, nothing to do")
		return nil
	}

	fmt.Printf("credential store ready at: %s\n", cfg.DatabaseDSN)
	fmt.Printf("envelope secret written to: %s\n", cfg.SecretFile)
	fmt.Printf("superuser email: %s\n", info.SuperuserEmail)
	if password == "" {
		fmt.Printf("superuser password (not recoverable, store it now): %s\n",
			info.SuperuserPassword)
	}
	return nil
}
