package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wfunc/tictactoe/board"
	"github.com/wfunc/tictactoe/room"
)

// 客户端 -> 服务端
const (
	MsgTypeCreateRoom = "create_room"
	MsgTypeJoinRoom   = "join_room"
	MsgTypeMove       = "move"
	MsgTypeRestart    = "restart"
)

// 服务端 -> 客户端
const (
	MsgTypeRoomCreated   = "room_created"
	MsgTypeRoomJoined    = "room_joined"
	MsgTypePlayerJoined  = "player_joined"
	MsgTypeMoveMade      = "move_made"
	MsgTypeGameWon       = "game_won"
	MsgTypeGameDraw      = "game_draw"
	MsgTypeGameRestarted = "game_restarted"
	MsgTypeError         = "error"
)

var ErrMalformedMessage = errors.New("malformed message")

// Request is any client message. Fields a type does not use are ignored.
type Request struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Position *int   `json:"position,omitempty"`
}

// DecodeRequest parses a client frame. It fails for undecodable JSON and
// for a missing type; unknown types are left for the caller to ignore.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if req.Type == "" {
		return Request{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return req, nil
}

type RoomEvent struct {
	Type   string        `json:"type"`
	Room   room.Snapshot `json:"room"`
	Player room.Player   `json:"player"`
}

// MoveEvent covers move_made, game_won and game_draw.
type MoveEvent struct {
	Type             string       `json:"type"`
	RoomCode         string       `json:"roomCode"`
	PlayerID         string       `json:"playerId"`
	Position         int          `json:"position"`
	Symbol           board.Symbol `json:"symbol"`
	CurrentTurn      string       `json:"currentTurn"`
	WinningPositions []int        `json:"winningPositions,omitempty"`
}

type RestartEvent struct {
	Type        string `json:"type"`
	CurrentTurn string `json:"currentTurn"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func RoomCreated(snap room.Snapshot, p room.Player) RoomEvent {
	return RoomEvent{Type: MsgTypeRoomCreated, Room: snap, Player: p}
}

func RoomJoined(snap room.Snapshot, p room.Player) RoomEvent {
	return RoomEvent{Type: MsgTypeRoomJoined, Room: snap, Player: p}
}

func PlayerJoined(snap room.Snapshot, p room.Player) RoomEvent {
	return RoomEvent{Type: MsgTypePlayerJoined, Room: snap, Player: p}
}

// MoveResult maps a committed move to its wire event.
func MoveResult(out room.MoveOutcome) MoveEvent {
	ev := MoveEvent{
		Type:        MsgTypeMoveMade,
		RoomCode:    out.Code,
		PlayerID:    out.PlayerID,
		Position:    out.Position,
		Symbol:      out.Symbol,
		CurrentTurn: out.CurrentTurn,
	}
	switch out.Kind {
	case room.Won:
		ev.Type = MsgTypeGameWon
		ev.WinningPositions = out.WinningPositions
	case room.Draw:
		ev.Type = MsgTypeGameDraw
	}
	return ev
}

func GameRestarted(currentTurn string) RestartEvent {
	return RestartEvent{Type: MsgTypeGameRestarted, CurrentTurn: currentTurn}
}

func Error(message string) ErrorEvent {
	return ErrorEvent{Type: MsgTypeError, Message: message}
}
