package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables. Secrets never live in the config file.
const (
	EnvPrivateKey    = "ARB_PRIVATE_KEY"
	EnvRedisPassword = "ARB_REDIS_PASSWORD"
	EnvPostgresDSN   = "ARB_POSTGRES_DSN"
	// EnvRPCPrefix + chain id overrides that chain's rpcEndpoint, e.g. ARB_RPC_1
	EnvRPCPrefix = "ARB_RPC_"
)

// LoadEnv loads variables from the given .env files, or ./.env. A missing file is not an error.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv copies secrets and RPC overrides from the environment into cfg
func ApplyEnv(cfg *Config) {
	cfg.PrivateKey = GetEnvWithDefault(EnvPrivateKey, cfg.PrivateKey)
	cfg.Redis.Password = GetEnvWithDefault(EnvRedisPassword, cfg.Redis.Password)
	cfg.Postgres.DSN = GetEnvWithDefault(EnvPostgresDSN, cfg.Postgres.DSN)

	for id, entry := range cfg.Chains {
		if rpc := os.Getenv(EnvRPCPrefix + strconv.FormatUint(id, 10)); rpc != "" {
			entry.RPCEndpoint = rpc
			cfg.Chains[id] = entry
		}
	}
}
