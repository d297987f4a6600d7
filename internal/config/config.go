// Package config handles configuration for the authnzerver: defaults, JSON
// overlay, and command-line flags, applied in that order.
package config

// Config holds runtime settings for the server.
//
// Fields:
//   - ListenAddr: bind address for the frontend HTTP endpoint.
//   - DatabaseDSN: SQLite file path, or a postgres:// DSN (pgx).
//   - SecretFile: path to the base64-encoded pre-shared envelope key.
//   - SessionExpiryDays / SessionRetentionDays: default session lifetime and
//     the sweep window for stale sessions.
//   - Workers: cap on concurrently executing request handlers.
//   - RedisAddr: rate-limiter backend; empty disables rate limiting.
//   - ServerHostname: public hostname, used by the password policy.
//   - SuperuserEmail: account seeded by -autosetup.
//   - Autosetup: initialize the database and secret file, then exit.
type Config struct {
	ListenAddr           string
	DatabaseDSN          string
	SecretFile           string
	SessionExpiryDays    int
	SessionRetentionDays int
	Workers              int
	RedisAddr            string
	ServerHostname       string
	SuperuserEmail       string
	Autosetup            bool
}

// LoadDefaults populates Config with development defaults. The listen
// address stays on loopback: the server is an internal backend and must not
// face the public network directly.
func (c *Config) LoadDefaults() {
	c.ListenAddr = "127.0.0.1:13431"
	c.DatabaseDSN = ".authnzerver/authnzerver.sqlite"
	c.SecretFile = ".authnzerver/secret-key"
	c.SessionExpiryDays = 30
	c.SessionRetentionDays = 7
	c.Workers = 4
	c.RedisAddr = ""
	c.ServerHostname = "localhost"
	c.SuperuserEmail = "superuser@localhost"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file (-c/-config) and finally from command-line
// flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
