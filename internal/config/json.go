package config

import (
	"encoding/json"
	"os"

	"github.com/waqasbhatti/authnzerver/internal/flagx"
)

// jsonConfig is the intermediate shape for JSON config files. Pointer fields
// distinguish "absent" from "zero", so a partial file overrides only what it
// names.
type jsonConfig struct {
	ListenAddr           *string `json:"listen_addr"`
	DatabaseDSN          *string `json:"database_dsn"`
	SecretFile           *string `json:"secret_file"`
	SessionExpiryDays    *int    `json:"session_expiry_days"`
	SessionRetentionDays *int    `json:"session_retention_days"`
	Workers              *int    `json:"workers"`
	RedisAddr            *string `json:"redis_addr"`
	ServerHostname       *string `json:"server_hostname"`
	SuperuserEmail       *string `json:"superuser_email"`
}

// parseJSON overlays values from the JSON file named by -c/-config onto the
// Config. No flag means no file is loaded. An unreadable or invalid file
// panics: a config the operator pointed at explicitly must not be half
// applied.
func parseJSON(config *Config) {
	jsonConfigFile := flagx.JSONConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &jsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.ListenAddr != nil {
		config.ListenAddr = *c.ListenAddr
	}
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.SecretFile != nil {
		config.SecretFile = *c.SecretFile
	}
	if c.SessionExpiryDays != nil {
		config.SessionExpiryDays = *c.SessionExpiryDays
	}
	if c.SessionRetentionDays != nil {
		config.SessionRetentionDays = *c.SessionRetentionDays
	}
	if c.Workers != nil {
		config.Workers = *c.Workers
	}
	if c.RedisAddr != nil {
		config.RedisAddr = *c.RedisAddr
	}
	if c.ServerHostname != nil {
		config.ServerHostname = *c.ServerHostname
	}
	if c.SuperuserEmail != nil {
		config.SuperuserEmail = *c.SuperuserEmail
	}
}
