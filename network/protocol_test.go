package network

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tictactoe/board"
	"github.com/wfunc/tictactoe/room"
	"github.com/wfunc/tictactoe/state"
)

func TestDecodeRequest(t *testing.T) {
	t.Run("move with position zero", func(t *testing.T) {
		req, err := DecodeRequest([]byte(`{"type":"move","roomCode":"ABCD1234","playerId":"p1","position":0}`))
		require.NoError(t, err)

		assert.Equal(t, MsgTypeMove, req.Type)
		assert.Equal(t, "ABCD1234", req.RoomCode)
		assert.Equal(t, "p1", req.PlayerID)
		require.NotNil(t, req.Position)
		assert.Equal(t, 0, *req.Position)
	})

	t.Run("missing position stays nil", func(t *testing.T) {
		req, err := DecodeRequest([]byte(`{"type":"move","roomCode":"ABCD1234"}`))
		require.NoError(t, err)
		assert.Nil(t, req.Position)
	})

	t.Run("unknown type is not a decode error", func(t *testing.T) {
		req, err := DecodeRequest([]byte(`{"type":"chat","text":"hi"}`))
		require.NoError(t, err)
		assert.Equal(t, "chat", req.Type)
	})

	tests := []struct {
		name  string
		input string
	}{
		{"not json", `hello`},
		{"truncated", `{"type":"move"`},
		{"no type", `{"roomCode":"X"}`},
		{"wrong field type", `{"type":"move","position":"four"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.input))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestMoveResult(t *testing.T) {
	base := room.MoveOutcome{
		Code:        "ROOM",
		PlayerID:    "p1",
		Position:    7,
		Symbol:      board.X,
		CurrentTurn: "p1",
	}

	t.Run("plain move", func(t *testing.T) {
		out := base
		out.Kind = room.MoveApplied
		out.CurrentTurn = "p2"

		data, err := json.Marshal(MoveResult(out))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"move_made","roomCode":"ROOM","playerId":"p1","position":7,"symbol":"X","currentTurn":"p2"}`, string(data))
	})

	t.Run("win carries the triple", func(t *testing.T) {
		out := base
		out.Kind = room.Won
		out.WinningPositions = []int{1, 4, 7}

		data, err := json.Marshal(MoveResult(out))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"game_won","roomCode":"ROOM","playerId":"p1","position":7,"symbol":"X","currentTurn":"p1","winningPositions":[1,4,7]}`, string(data))
	})

	t.Run("draw", func(t *testing.T) {
		out := base
		out.Kind = room.Draw

		ev := MoveResult(out)
		assert.Equal(t, MsgTypeGameDraw, ev.Type)
		assert.Nil(t, ev.WinningPositions)
	})
}

func TestRoomEvent_JSON(t *testing.T) {
	player := room.Player{ID: "p1", Username: "Alice", Symbol: board.X}
	snap := room.Snapshot{
		Code:        "ROOM",
		Players:     []room.Player{player},
		Moves:       board.Cells{4: board.X},
		CurrentTurn: "p1",
		Status:      state.Waiting,
	}

	data, err := json.Marshal(RoomCreated(snap, player))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "room_created",
		"room": {
			"code": "ROOM",
			"players": [{"id":"p1","username":"Alice","symbol":"X"}],
			"moves": [null,null,null,null,"X",null,null,null,null],
			"currentTurn": "p1",
			"status": "waiting"
		},
		"player": {"id":"p1","username":"Alice","symbol":"X"}
	}`, string(data))
}

func TestErrorAndRestartEvents(t *testing.T) {
	data, err := json.Marshal(Error("Room full"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"Room full"}`, string(data))

	data, err = json.Marshal(GameRestarted("p1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"game_restarted","currentTurn":"p1"}`, string(data))
}
