package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tictactoe/models"
)

const (
	expireSeconds   = 120
	maxWaitDuration = 120 * time.Second
)

// startContainer runs image:tag and returns the host address of port. The
// test is skipped when docker is unavailable or under -short.
func startContainer(t *testing.T, image, tag, port string, env []string) (*dockertest.Pool, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("could not connect to docker: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not reachable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: image,
		Tag:        tag,
		Env:        env,
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start %s: %v", image, err)
	}
	_ = resource.Expire(expireSeconds)

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("could not purge %s: %v", image, err)
		}
	})

	pool.MaxWait = maxWaitDuration
	return pool, resource.GetHostPort(port)
}

func TestRedisMirror_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer cancel()

	pool, addr := startContainer(t, "redis", "alpine", "6379/tcp", nil)

	var client *redis.Client
	require.NoError(t, pool.Retry(func() error {
		client = redis.NewClient(&redis.Options{Addr: addr})
		return client.Ping(ctx).Err()
	}))
	require.NoError(t, client.FlushDB(ctx).Err())

	m := NewRedisMirrorFromClient(client, "test:")
	defer m.Close()

	read := func(t *testing.T, roomID string) storedRoom {
		room, moves, err := m.Room(ctx, roomID)
		require.NoError(t, err)
		return storedRoom{
			Status:      room.Status,
			CurrentTurn: room.CurrentTurn,
			WinnerID:    room.WinnerID,
			Players:     len(room.Players),
			Moves:       len(moves),
		}
	}
	exerciseMirror(t, ctx, m, read, "22222222-2222-2222-2222-222222222222")

	keys, err := client.Keys(ctx, "test:room:*").Result()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"test:room:22222222-2222-2222-2222-222222222222",
		"test:room:22222222-2222-2222-2222-222222222222:players",
	}, keys)
}

func startPostgres(t *testing.T) PostgresConfig {
	t.Helper()

	pool, addr := startContainer(t, "postgres", "16-alpine", "5432/tcp", []string{
		"POSTGRES_USER=ttt",
		"POSTGRES_PASSWORD=secret",
		"POSTGRES_DB=ttt",
	})

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := PostgresConfig{Host: host, Port: port, User: "ttt", Password: "secret", DBName: "ttt"}
	require.NoError(t, pool.Retry(func() error {
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	}))
	return cfg
}

func sqlReader(db *sql.DB) roomReader {
	return func(t *testing.T, roomID string) storedRoom {
		var got storedRoom
		var winner sql.NullString
		err := db.QueryRow(`SELECT status, current_turn, winner_id FROM rooms WHERE id = $1`, roomID).
			Scan(&got.Status, &got.CurrentTurn, &winner)
		require.NoError(t, err)
		if winner.Valid {
			got.WinnerID = &winner.String
		}
		require.NoError(t, db.QueryRow(`SELECT count(*) FROM players WHERE room_id = $1`, roomID).Scan(&got.Players))
		require.NoError(t, db.QueryRow(`SELECT count(*) FROM moves WHERE room_id = $1`, roomID).Scan(&got.Moves))
		return got
	}
}

func TestSQLMirror_Integration(t *testing.T) {
	ctx := context.Background()
	cfg := startPostgres(t)

	m, err := NewSQLMirror(ctx, cfg)
	require.NoError(t, err)
	defer m.Close()

	exerciseMirror(t, ctx, m, sqlReader(m.db), "33333333-3333-3333-3333-333333333333")

	// initTables is idempotent
	require.NoError(t, initTables(ctx, m.db))
}

func TestGormMirror_Integration(t *testing.T) {
	ctx := context.Background()
	cfg := startPostgres(t)

	m, err := NewGormMirror(cfg)
	require.NoError(t, err)
	defer m.Close()

	sqlDB, err := m.db.DB()
	require.NoError(t, err)
	exerciseMirror(t, ctx, m, sqlReader(sqlDB), "44444444-4444-4444-4444-444444444444")

	var room models.RoomRecord
	require.NoError(t, m.db.Preload("Players").First(&room, "id = ?", "44444444-4444-4444-4444-444444444444").Error)
	require.Len(t, room.Players, 2)
	require.Equal(t, "ABCD1234", room.Code)
}

func TestOpen_Integration(t *testing.T) {
	ctx := context.Background()
	cfg := startPostgres(t)

	m, err := Open(ctx, []string{BackendSQL, BackendMemory}, Options{Postgres: cfg})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.CreateRoom(ctx, sampleRoom("55555555-5555-5555-5555-555555555555")))
	require.Equal(t, fmt.Sprintf("%T", Fanout{}), fmt.Sprintf("%T", m))
}
