// Package redis backs the settings source and the notification sink with go-redis.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config holds connection parameters. The password comes from the environment.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Password    string `yaml:"-"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"poolSize"`
	TLSEnabled  bool   `yaml:"tls"`
	SettingsKey string `yaml:"settingsKey"`
}

// DefaultConfig points at a local redis
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:6379",
		PoolSize:    10,
		SettingsKey: "settings",
	}
}

// Commands is the subset of the go-redis client used here
type Commands interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Dial connects and pings the server
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
