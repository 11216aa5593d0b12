package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/wfunc/tictactoe/logger"
)

const (
	BackendGorm   = "gorm"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Options carries the connection settings of every backend; only those
// named in Open's backend list are used.
type Options struct {
	Postgres PostgresConfig
	Redis    RedisConfig
	NATS     NATSConfig
}

// Open connects the named backends. No backends yields Nop, one yields the
// backend itself, several a Fanout.
func Open(ctx context.Context, backends []string, opts Options) (Mirror, error) {
	var mirrors Fanout
	closeAll := func() { _ = mirrors.Close() }

	for _, name := range backends {
		var (
			m   Mirror
			err error
		)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case BackendGorm:
			m, err = NewGormMirror(opts.Postgres)
		case BackendSQL:
			m, err = NewSQLMirror(ctx, opts.Postgres)
		case BackendRedis:
			m, err = NewRedisMirror(ctx, opts.Redis)
		case BackendNATS:
			m, err = NewNATSMirror(opts.NATS)
		case BackendMemory:
			m = NewMemoryMirror()
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownBackend, name)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open mirror %s: %w", name, err)
		}
		logger.Log.Infow("mirror backend ready", "backend", name)
		mirrors = append(mirrors, m)
	}

	switch len(mirrors) {
	case 0:
		return Nop{}, nil
	case 1:
		return mirrors[0], nil
	default:
		return mirrors, nil
	}
}
