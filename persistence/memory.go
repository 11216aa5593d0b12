package persistence

import (
	"context"
	"sync"

	"github.com/wfunc/tictactoe/models"
)

// MemoryMirror keeps records in process. It backs local runs and tests.
type MemoryMirror struct {
	mutex  sync.Mutex
	rooms  map[string]models.RoomRecord
	moves  map[string][]models.MoveRecord
	ops    []string
	closed bool
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{
		rooms: make(map[string]models.RoomRecord),
		moves: make(map[string][]models.MoveRecord),
	}
}

func (m *MemoryMirror) CreateRoom(_ context.Context, room models.RoomRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrMirrorClosed
	}

	room.Players = append([]models.PlayerRecord(nil), room.Players...)
	for i := range room.Players {
		room.Players[i].RoomID = room.ID
	}
	m.rooms[room.ID] = room
	m.ops = append(m.ops, OpCreateRoom)
	return nil
}

func (m *MemoryMirror) AddPlayer(_ context.Context, roomID string, player models.PlayerRecord) error {
	return m.update(OpAddPlayer, roomID, func(room *models.RoomRecord) {
		player.RoomID = roomID
		room.Players = append(room.Players, player)
	})
}

func (m *MemoryMirror) RecordMove(_ context.Context, move models.MoveRecord) error {
	return m.update(OpRecordMove, move.RoomID, func(*models.RoomRecord) {
		m.moves[move.RoomID] = append(m.moves[move.RoomID], move)
	})
}

func (m *MemoryMirror) FinishRoom(_ context.Context, roomID, winnerID string) error {
	return m.update(OpFinishRoom, roomID, func(room *models.RoomRecord) {
		room.Status = "finished"
		room.WinnerID = models.NullableID(winnerID)
	})
}

func (m *MemoryMirror) ResetRoom(_ context.Context, roomID, currentTurn string) error {
	return m.update(OpResetRoom, roomID, func(room *models.RoomRecord) {
		delete(m.moves, roomID)
		room.Status = "playing"
		room.CurrentTurn = currentTurn
		room.WinnerID = nil
	})
}

func (m *MemoryMirror) update(op, roomID string, mutate func(*models.RoomRecord)) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrMirrorClosed
	}

	room, ok := m.rooms[roomID]
	if !ok {
		return ErrRecordNotFound
	}
	mutate(&room)
	m.rooms[roomID] = room
	m.ops = append(m.ops, op)
	return nil
}

// Room returns a stored room and its moves.
func (m *MemoryMirror) Room(roomID string) (models.RoomRecord, []models.MoveRecord, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return models.RoomRecord{}, nil, false
	}
	room.Players = append([]models.PlayerRecord(nil), room.Players...)
	return room, append([]models.MoveRecord(nil), m.moves[roomID]...), true
}

// Ops lists the successful writes in the order they were applied.
func (m *MemoryMirror) Ops() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string(nil), m.ops...)
}

func (m *MemoryMirror) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}
