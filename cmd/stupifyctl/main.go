package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"stupify/internal/util"
	"stupify/pkg/store"
)

func main() {
	_ = godotenv.Load()
	util.InitLogger(os.Getenv("LOG_LEVEL"), "stupifyctl")

	if err := newRootCmd(openBackends).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// openBackends connects to Postgres and, when REDIS_ADDR is set, Redis.
// Opening the GORM store runs migrations.
func openBackends(_ context.Context, opts globalOptions) (backends, error) {
	dsn := strings.TrimSpace(opts.databaseURL)
	if dsn == "" {
		return backends{}, errors.New("database url required (--database-url or DATABASE_URL)")
	}
	db, err := store.NewGormStore(dsn)
	if err != nil {
		return backends{}, err
	}
	b := backends{store: db, close: func() { _ = db.Close() }}
	if addr := strings.TrimSpace(opts.redisAddr); addr != "" {
		redisOpts := &redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")}
		if opts.redisTLS {
			redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(redisOpts)
		revoker, err := store.NewRedisTokenRevoker(client, 0)
		if err != nil {
			_ = client.Close()
			b.close()
			return backends{}, err
		}
		b.revoker = revoker
		b.close = func() {
			_ = client.Close()
			_ = db.Close()
		}
	}
	return b, nil
}
