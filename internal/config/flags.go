package config

import (
	"flag"
	"os"

	"github.com/waqasbhatti/authnzerver/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   listen address (e.g., "127.0.0.1:13431")
//	-d string   database DSN (SQLite path or postgres:// URL)
//	-s string   path to the envelope secret-key file
//	-e int      default session expiry, days
//	-r int      session retention sweep window, days
//	-w int      request handler worker cap
//	-q string   redis address for the rate limiter (empty disables)
//	-n string   public server hostname (password policy input)
//	-m string   superuser email for -autosetup
//	-autosetup  initialize database and secret file, then exit
//
// os.Args is first filtered to the flags recognized here, so other
// components can own their own flags without collisions.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:],
		[]string{"-a", "-d", "-s", "-e", "-r", "-w", "-q", "-n", "-m", "-autosetup"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to listen on")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretFile, "s", config.SecretFile, "envelope secret key file")
	fs.IntVar(&config.SessionExpiryDays, "e", config.SessionExpiryDays, "default session expiry (days)")
	fs.IntVar(&config.SessionRetentionDays, "r", config.SessionRetentionDays, "session retention window (days)")
	fs.IntVar(&config.Workers, "w", config.Workers, "request handler workers")
	fs.StringVar(&config.RedisAddr, "q", config.RedisAddr, "redis address for rate limiting")
	fs.StringVar(&config.ServerHostname, "n", config.ServerHostname, "public server hostname")
	fs.StringVar(&config.SuperuserEmail, "m", config.SuperuserEmail, "superuser email for autosetup")
	fs.BoolVar(&config.Autosetup, "autosetup", config.Autosetup, "initialize the database and secret file, then exit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
