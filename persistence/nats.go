package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wfunc/tictactoe/models"
)

// NATSConfig 连接参数. Stream, when set, makes every publish go through
// JetStream and wait for the ack.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Stream        string
}

// NATSMirror publishes each mirror write as a models.MirrorEvent on
// {prefix}.{op} for downstream history and analytics consumers.
type NATSMirror struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

func NewNATSMirror(cfg NATSConfig) (*NATSMirror, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "tictactoe"
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("tictactoe-mirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	m := &NATSMirror{conn: conn, prefix: cfg.SubjectPrefix}
	if cfg.Stream == "" {
		return m, nil
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	// AddStream 幂等: 已存在且配置相同时直接返回
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		Discard:   nats.DiscardOld,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("add stream %s: %w", cfg.Stream, err)
	}
	m.js = js
	return m, nil
}

func (m *NATSMirror) Subject(op string) string {
	return m.prefix + "." + op
}

func (m *NATSMirror) publish(ctx context.Context, event models.MirrorEvent) error {
	event.At = time.Now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := m.Subject(event.Op)
	if m.js != nil {
		_, err = m.js.Publish(subject, data, nats.Context(ctx))
		return err
	}
	if err := m.conn.Publish(subject, data); err != nil {
		return err
	}
	return m.conn.FlushWithContext(ctx)
}

func (m *NATSMirror) CreateRoom(ctx context.Context, room models.RoomRecord) error {
	return m.publish(ctx, models.MirrorEvent{Op: OpCreateRoom, RoomID: room.ID, Room: &room})
}

func (m *NATSMirror) AddPlayer(ctx context.Context, roomID string, player models.PlayerRecord) error {
	player.RoomID = roomID
	return m.publish(ctx, models.MirrorEvent{Op: OpAddPlayer, RoomID: roomID, Player: &player})
}

func (m *NATSMirror) RecordMove(ctx context.Context, move models.MoveRecord) error {
	return m.publish(ctx, models.MirrorEvent{Op: OpRecordMove, RoomID: move.RoomID, Move: &move})
}

func (m *NATSMirror) FinishRoom(ctx context.Context, roomID, winnerID string) error {
	return m.publish(ctx, models.MirrorEvent{Op: OpFinishRoom, RoomID: roomID, WinnerID: models.NullableID(winnerID)})
}

func (m *NATSMirror) ResetRoom(ctx context.Context, roomID, currentTurn string) error {
	return m.publish(ctx, models.MirrorEvent{Op: OpResetRoom, RoomID: roomID, CurrentTurn: currentTurn})
}

// Close drains pending publishes before closing.
func (m *NATSMirror) Close() error {
	return m.conn.Drain()
}
