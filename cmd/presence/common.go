package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/christopherjohns/filepresence/internal/config"
	"github.com/christopherjohns/filepresence/internal/identity"
	"pkt.systems/pslog"
)

const redisPingTimeout = 5 * time.Second

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

// openStore picks the identity store: Redis when redisAddr is set, the
// state file otherwise, and memory when there is no state file. An
// unreachable Redis degrades to memory so the user id is ephemeral for
// this process instead of failing the command.
func openStore(ctx context.Context, cfg config.Config) (identity.Store, func(), error) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			pslog.Ctx(ctx).Warn("redis unavailable, user id is ephemeral", "addr", cfg.RedisAddr, "err", err)
			return identity.NewMemoryStore(), func() {}, nil
		}
		return identity.NewRedisStore(rdb, cfg.RedisNamespace), func() { _ = rdb.Close() }, nil
	}
	if cfg.StateFile == "" {
		return identity.NewMemoryStore(), func() {}, nil
	}
	return identity.NewFileStore(cfg.StateFile), func() {}, nil
}
