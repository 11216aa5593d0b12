package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tictactoe/models"
)

// storedRoom is what the conformance checks read back from a backend.
type storedRoom struct {
	Status      string
	CurrentTurn string
	WinnerID    *string
	Players     int
	Moves       int
}

type roomReader func(t *testing.T, roomID string) storedRoom

func sampleRoom(id string) models.RoomRecord {
	return models.RoomRecord{
		ID:          id,
		Code:        "ABCD1234",
		OwnerID:     "p-x",
		CurrentTurn: "p-x",
		Status:      "waiting",
		Players: []models.PlayerRecord{
			{ID: "p-x", Username: "Alice", Symbol: "X"},
		},
	}
}

// exerciseMirror runs one full game through m.
func exerciseMirror(t *testing.T, ctx context.Context, m Mirror, read roomReader, roomID string) {
	t.Helper()

	require.NoError(t, m.CreateRoom(ctx, sampleRoom(roomID)))
	got := read(t, roomID)
	assert.Equal(t, "waiting", got.Status)
	assert.Equal(t, 1, got.Players)

	require.NoError(t, m.AddPlayer(ctx, roomID, models.PlayerRecord{ID: "p-o", Username: "Bob", Symbol: "O"}))
	assert.Equal(t, 2, read(t, roomID).Players)

	for i, pos := range []int{4, 0, 1, 3, 7} {
		player, symbol := "p-x", "X"
		if i%2 == 1 {
			player, symbol = "p-o", "O"
		}
		require.NoError(t, m.RecordMove(ctx, models.MoveRecord{RoomID: roomID, PlayerID: player, Position: pos, Symbol: symbol}))
	}
	assert.Equal(t, 5, read(t, roomID).Moves)

	require.NoError(t, m.FinishRoom(ctx, roomID, "p-x"))
	got = read(t, roomID)
	assert.Equal(t, "finished", got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "p-x", *got.WinnerID)

	require.NoError(t, m.ResetRoom(ctx, roomID, "p-x"))
	got = read(t, roomID)
	assert.Equal(t, "playing", got.Status)
	assert.Equal(t, "p-x", got.CurrentTurn)
	assert.Nil(t, got.WinnerID)
	assert.Equal(t, 0, got.Moves)
	assert.Equal(t, 2, got.Players)

	// draw keeps the winner empty
	require.NoError(t, m.FinishRoom(ctx, roomID, ""))
	got = read(t, roomID)
	assert.Equal(t, "finished", got.Status)
	assert.Nil(t, got.WinnerID)

	assert.ErrorIs(t, m.FinishRoom(ctx, "00000000-0000-0000-0000-000000000000", "p"), ErrRecordNotFound)
}

func TestMemoryMirror(t *testing.T) {
	m := NewMemoryMirror()
	read := func(t *testing.T, roomID string) storedRoom {
		room, moves, ok := m.Room(roomID)
		require.True(t, ok)
		return storedRoom{
			Status:      room.Status,
			CurrentTurn: room.CurrentTurn,
			WinnerID:    room.WinnerID,
			Players:     len(room.Players),
			Moves:       len(moves),
		}
	}

	exerciseMirror(t, context.Background(), m, read, "11111111-1111-1111-1111-111111111111")

	assert.Equal(t, []string{
		OpCreateRoom, OpAddPlayer,
		OpRecordMove, OpRecordMove, OpRecordMove, OpRecordMove, OpRecordMove,
		OpFinishRoom, OpResetRoom, OpFinishRoom,
	}, m.Ops())

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.CreateRoom(context.Background(), sampleRoom("x")), ErrMirrorClosed)
}

type failingMirror struct {
	Nop
	err error
}

func (f failingMirror) RecordMove(context.Context, models.MoveRecord) error { return f.err }

func TestFanout(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemoryMirror(), NewMemoryMirror()
	boom := errors.New("boom")
	f := Fanout{a, failingMirror{err: boom}, b}

	require.NoError(t, f.CreateRoom(ctx, sampleRoom("r1")))
	err := f.RecordMove(ctx, models.MoveRecord{RoomID: "r1", PlayerID: "p-x", Position: 0, Symbol: "X"})

	// one backend failing does not stop the others
	assert.ErrorIs(t, err, boom)
	_, movesA, _ := a.Room("r1")
	_, movesB, _ := b.Room("r1")
	assert.Len(t, movesA, 1)
	assert.Len(t, movesB, 1)

	require.NoError(t, f.Close())
}

func TestNop(t *testing.T) {
	var m Mirror = Nop{}
	ctx := context.Background()

	assert.NoError(t, m.CreateRoom(ctx, sampleRoom("r")))
	assert.NoError(t, m.AddPlayer(ctx, "r", models.PlayerRecord{}))
	assert.NoError(t, m.RecordMove(ctx, models.MoveRecord{}))
	assert.NoError(t, m.FinishRoom(ctx, "r", ""))
	assert.NoError(t, m.ResetRoom(ctx, "r", "p"))
	assert.NoError(t, m.Close())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("no backends", func(t *testing.T) {
		m, err := Open(ctx, nil, Options{})
		require.NoError(t, err)
		assert.IsType(t, Nop{}, m)
	})

	t.Run("single backend", func(t *testing.T) {
		m, err := Open(ctx, []string{"memory"}, Options{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryMirror{}, m)
	})

	t.Run("several backends", func(t *testing.T) {
		m, err := Open(ctx, []string{"memory", " Memory "}, Options{})
		require.NoError(t, err)
		require.IsType(t, Fanout{}, m)
		assert.Len(t, m.(Fanout), 2)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Open(ctx, []string{"memory", "mongo"}, Options{})
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "ttt"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=ttt sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}
