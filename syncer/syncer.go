// Package syncer copies committed room changes to the durable mirror in the
// background. Live play never waits on it and never sees its failures.
package syncer

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/tictactoe/logger"
	"github.com/wfunc/tictactoe/models"
	"github.com/wfunc/tictactoe/monitor"
	"github.com/wfunc/tictactoe/persistence"
	"github.com/wfunc/tictactoe/room"
)

var ErrStopTimeout = errors.New("synchronizer stopped before the queue drained")

// IDAttacher receives the durable id once the room is written.
type IDAttacher interface {
	AttachID(code, id string) bool
}

type Config struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

type taskKind int

const (
	taskCreated taskKind = iota
	taskJoined
	taskMove
	taskRestart
	taskForget
)

func (k taskKind) String() string {
	switch k {
	case taskCreated:
		return "room_created"
	case taskJoined:
		return "player_joined"
	case taskMove:
		return "move_made"
	case taskRestart:
		return "restarted"
	default:
		return "forget"
	}
}

// task carries the room as it was right after the commit, so a room whose
// creation never reached the mirror can be written late from any task.
type task struct {
	kind   taskKind
	code   string
	room   room.Snapshot
	player room.Player
	move   room.MoveOutcome
}

// Synchronizer 按房间分片的异步镜像写入器. Every task for a room lands on
// the same shard, so one room's writes run in commit order.
type Synchronizer struct {
	mirror  persistence.Mirror
	rooms   IDAttacher
	monitor *monitor.Monitor
	cfg     Config
	newID   func() string

	shards []chan task
	wg     sync.WaitGroup
	mutex  sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(mirror persistence.Mirror, rooms IDAttacher, mon *monitor.Monitor, cfg Config) *Synchronizer {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Synchronizer{
		mirror:  mirror,
		rooms:   rooms,
		monitor: mon,
		cfg:     cfg,
		newID:   uuid.NewString,
		shards:  make([]chan task, cfg.Workers),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range s.shards {
		s.shards[i] = make(chan task, cfg.QueueSize)
	}
	return s
}

// Start launches one worker per shard.
func (s *Synchronizer) Start() {
	for i, shard := range s.shards {
		s.wg.Add(1)
		go s.worker(i, shard)
	}
	logger.Log.Infow("synchronizer started", "workers", len(s.shards), "queue_size", s.cfg.QueueSize)
}

// Stop refuses new tasks and waits for the queues to drain. When ctx ends
// first, in-flight writes are cancelled and the rest is dropped.
func (s *Synchronizer) Stop(ctx context.Context) error {
	s.mutex.Lock()
	if !s.closed {
		s.closed = true
		for _, shard := range s.shards {
			close(shard)
		}
	}
	s.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ErrStopTimeout
	}
}

func (s *Synchronizer) RoomCreated(snap room.Snapshot) {
	s.enqueue(task{kind: taskCreated, code: snap.Code, room: snap})
}

func (s *Synchronizer) PlayerJoined(snap room.Snapshot, player room.Player) {
	s.enqueue(task{kind: taskJoined, code: snap.Code, room: snap, player: player})
}

func (s *Synchronizer) MoveMade(out room.MoveOutcome) {
	s.enqueue(task{kind: taskMove, code: out.Code, room: out.Room, move: out})
}

func (s *Synchronizer) Restarted(snap room.Snapshot) {
	s.enqueue(task{kind: taskRestart, code: snap.Code, room: snap})
}

// Forget drops the shard's memory of a room that left the store.
func (s *Synchronizer) Forget(code string) {
	s.enqueue(task{kind: taskForget, code: code})
}

// enqueue never blocks: a full or closed queue drops the task.
func (s *Synchronizer) enqueue(t task) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed {
		s.drop(t, "closed")
		return
	}
	select {
	case s.shards[shardFor(t.code, len(s.shards))] <- t:
	default:
		s.drop(t, "queue full")
	}
}

func (s *Synchronizer) drop(t task, reason string) {
	s.monitor.IncMirrorDropped()
	logger.Log.Warnw("mirror task dropped", "room", t.code, "kind", t.kind, "reason", reason)
}

func shardFor(code string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	return int(h.Sum32() % uint32(n))
}

// worker owns ids for the codes of its shard; nothing else touches them.
func (s *Synchronizer) worker(n int, tasks <-chan task) {
	defer s.wg.Done()
	ids := make(map[string]string)

	for t := range tasks {
		if s.ctx.Err() != nil {
			s.drop(t, "stopping")
			continue
		}
		s.process(ids, t)
	}
	logger.Log.Debugw("synchronizer worker exited", "shard", n)
}

func (s *Synchronizer) process(ids map[string]string, t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorw("mirror task panicked", "room", t.code, "panic", r)
		}
	}()

	if t.kind == taskForget {
		delete(ids, t.code)
		return
	}

	id, ok := ids[t.code]
	justCreated := false
	if !ok {
		var err error
		if id, err = s.createRoom(t.room); err != nil {
			// 下一个任务会重试创建
			return
		}
		ids[t.code] = id
		justCreated = true
	}

	switch t.kind {
	case taskJoined:
		// a room written late from this snapshot already holds the joiner
		if justCreated {
			return
		}
		_ = s.write(persistence.OpAddPlayer, t.code, func(ctx context.Context) error {
			return s.mirror.AddPlayer(ctx, id, playerRecord(id, t.player))
		})
	case taskMove:
		s.recordMove(id, t.move)
	case taskRestart:
		_ = s.write(persistence.OpResetRoom, t.code, func(ctx context.Context) error {
			return s.mirror.ResetRoom(ctx, id, t.room.CurrentTurn)
		})
	}
}

func (s *Synchronizer) createRoom(snap room.Snapshot) (string, error) {
	id := snap.ID
	if id == "" {
		id = s.newID()
	}
	record := roomRecord(id, snap)

	err := s.write(persistence.OpCreateRoom, snap.Code, func(ctx context.Context) error {
		return s.mirror.CreateRoom(ctx, record)
	})
	if err != nil {
		return "", err
	}
	s.rooms.AttachID(snap.Code, id)
	return id, nil
}

func (s *Synchronizer) recordMove(id string, out room.MoveOutcome) {
	_ = s.write(persistence.OpRecordMove, out.Code, func(ctx context.Context) error {
		return s.mirror.RecordMove(ctx, models.MoveRecord{
			RoomID:   id,
			PlayerID: out.PlayerID,
			Position: out.Position,
			Symbol:   string(out.Symbol),
		})
	})

	if out.Kind == room.MoveApplied {
		return
	}
	_ = s.write(persistence.OpFinishRoom, out.Code, func(ctx context.Context) error {
		return s.mirror.FinishRoom(ctx, id, out.WinnerID)
	})
}

// write runs one mirror call with its own deadline. Failures are logged
// and counted, never returned to a player.
func (s *Synchronizer) write(op, code string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	defer cancel()

	err := fn(ctx)
	s.monitor.ObserveMirrorWrite(op, err)
	if err != nil {
		logger.Log.Warnw("mirror write failed", "op", op, "room", code, "error", err)
	}
	return err
}

func roomRecord(id string, snap room.Snapshot) models.RoomRecord {
	record := models.RoomRecord{
		ID:          id,
		Code:        snap.Code,
		CurrentTurn: snap.CurrentTurn,
		Status:      string(snap.Status),
		WinnerID:    models.NullableID(snap.WinnerID),
	}
	if len(snap.Players) > 0 {
		record.OwnerID = snap.Creator().ID
	}
	for _, p := range snap.Players {
		record.Players = append(record.Players, playerRecord(id, p))
	}
	return record
}

func playerRecord(roomID string, p room.Player) models.PlayerRecord {
	return models.PlayerRecord{
		ID:       p.ID,
		RoomID:   roomID,
		Username: p.Username,
		Symbol:   string(p.Symbol),
	}
}
