// room/room.go
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/wfunc/tictactoe/board"
	"github.com/wfunc/tictactoe/state"
)

const (
	MaxPlayers = 2

	DefaultCreatorName = "Player X"
	DefaultJoinerName  = "Player O"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room full")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrIllegalMove        = errors.New("illegal move")
	ErrGameOver           = errors.New("game over")
	ErrWaitingForOpponent = errors.New("waiting for opponent")
)

// Player 房间内的玩家
type Player struct {
	ID       string       `json:"id"`
	Username string       `json:"username"`
	Symbol   board.Symbol `json:"symbol"`
}

// Snapshot is a copy of a room's state, safe to hand to other goroutines
// and to encode on the wire.
type Snapshot struct {
	ID          string       `json:"id,omitempty"`
	Code        string       `json:"code"`
	Players     []Player     `json:"players"`
	Moves       board.Cells  `json:"moves"`
	CurrentTurn string       `json:"currentTurn"`
	Status      state.Status `json:"status"`
	WinnerID    string       `json:"winnerId,omitempty"`
}

// Creator returns the first player. Every stored room has one.
func (s Snapshot) Creator() Player {
	return s.Players[0]
}

// Player looks up a player by id.
func (s Snapshot) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Room 是游戏房间的核心结构. All fields are guarded by mu, which is held
// for the whole of one store operation.
type Room struct {
	mu          sync.Mutex
	id          string
	code        string
	players     []Player
	cells       board.Cells
	currentTurn string
	status      *state.Machine
	winnerID    string
	updatedAt   time.Time
	removed     bool
}

func newRoom(code string, creator Player, now time.Time) *Room {
	return &Room{
		code:        code,
		players:     []Player{creator},
		currentTurn: creator.ID,
		status:      state.NewMachine(),
		updatedAt:   now,
	}
}

// snapshot must be called with mu held.
func (r *Room) snapshot() Snapshot {
	players := make([]Player, len(r.players))
	copy(players, r.players)

	return Snapshot{
		ID:          r.id,
		Code:        r.code,
		Players:     players,
		Moves:       r.cells,
		CurrentTurn: r.currentTurn,
		Status:      r.status.Current(),
		WinnerID:    r.winnerID,
	}
}

// playerByID must be called with mu held.
func (r *Room) playerByID(id string) (Player, bool) {
	for _, p := range r.players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// opponentOf must be called with mu held.
func (r *Room) opponentOf(id string) (Player, bool) {
	for _, p := range r.players {
		if p.ID != id {
			return p, true
		}
	}
	return Player{}, false
}
