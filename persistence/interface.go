// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/tictactoe/models"
)

// 镜像操作名, also used as metric labels and event subjects.
const (
	OpCreateRoom = "create_room"
	OpAddPlayer  = "add_player"
	OpRecordMove = "record_move"
	OpFinishRoom = "finish_room"
	OpResetRoom  = "reset_room"
)

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
	ErrUnknownBackend = errors.New("unknown mirror backend")
	ErrMirrorClosed   = errors.New("mirror closed")
)

// Mirror is a best-effort durable copy of rooms, players and moves. It is
// written after the fact and never read for live play.
type Mirror interface {
	// CreateRoom stores the room and its initial players. room.ID is set
	// by the caller.
	CreateRoom(ctx context.Context, room models.RoomRecord) error
	AddPlayer(ctx context.Context, roomID string, player models.PlayerRecord) error
	RecordMove(ctx context.Context, move models.MoveRecord) error
	// FinishRoom marks the room finished. An empty winnerID records a draw.
	FinishRoom(ctx context.Context, roomID, winnerID string) error
	// ResetRoom deletes the move history and puts the room back in play.
	ResetRoom(ctx context.Context, roomID, currentTurn string) error
	Close() error
}

// Nop discards every write. It is used when no backend is configured.
type Nop struct{}

func (Nop) CreateRoom(context.Context, models.RoomRecord) error          { return nil }
func (Nop) AddPlayer(context.Context, string, models.PlayerRecord) error { return nil }
func (Nop) RecordMove(context.Context, models.MoveRecord) error          { return nil }
func (Nop) FinishRoom(context.Context, string, string) error             { return nil }
func (Nop) ResetRoom(context.Context, string, string) error              { return nil }
func (Nop) Close() error                                                 { return nil }

// Fanout writes to every backend in turn and joins their errors.
type Fanout []Mirror

func (f Fanout) CreateRoom(ctx context.Context, room models.RoomRecord) error {
	return f.each(func(m Mirror) error { return m.CreateRoom(ctx, room) })
}

func (f Fanout) AddPlayer(ctx context.Context, roomID string, player models.PlayerRecord) error {
	return f.each(func(m Mirror) error { return m.AddPlayer(ctx, roomID, player) })
}

func (f Fanout) RecordMove(ctx context.Context, move models.MoveRecord) error {
	return f.each(func(m Mirror) error { return m.RecordMove(ctx, move) })
}

func (f Fanout) FinishRoom(ctx context.Context, roomID, winnerID string) error {
	return f.each(func(m Mirror) error { return m.FinishRoom(ctx, roomID, winnerID) })
}

func (f Fanout) ResetRoom(ctx context.Context, roomID, currentTurn string) error {
	return f.each(func(m Mirror) error { return m.ResetRoom(ctx, roomID, currentTurn) })
}

func (f Fanout) Close() error {
	return f.each(func(m Mirror) error { return m.Close() })
}

func (f Fanout) each(fn func(Mirror) error) error {
	var errs []error
	for _, m := range f {
		if err := fn(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
