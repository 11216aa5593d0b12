package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/tictactoe/models"
)

// RedisConfig 连接参数
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisMirror keeps the room document at {prefix}room:{id}, its players
// in a hash and its moves in a list.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisMirrorFromClient(client, cfg.KeyPrefix), nil
}

func NewRedisMirrorFromClient(client *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix}
}

func (r *RedisMirror) roomKey(id string) string    { return r.prefix + "room:" + id }
func (r *RedisMirror) playersKey(id string) string { return r.roomKey(id) + ":players" }
func (r *RedisMirror) movesKey(id string) string   { return r.roomKey(id) + ":moves" }

func (r *RedisMirror) CreateRoom(ctx context.Context, room models.RoomRecord) error {
	now := time.Now().UTC()
	room.CreatedAt, room.UpdatedAt = now, now
	players := room.Players
	room.Players = nil

	doc, err := json.Marshal(room)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.roomKey(room.ID), doc, 0)
		for _, p := range players {
			if err := r.hsetPlayer(ctx, pipe, room.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (r *RedisMirror) AddPlayer(ctx context.Context, roomID string, player models.PlayerRecord) error {
	return r.hsetPlayer(ctx, r.client, roomID, player)
}

func (r *RedisMirror) hsetPlayer(ctx context.Context, c redis.Cmdable, roomID string, player models.PlayerRecord) error {
	player.RoomID = roomID
	if player.CreatedAt.IsZero() {
		player.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(player)
	if err != nil {
		return err
	}
	return c.HSet(ctx, r.playersKey(roomID), player.ID, data).Err()
}

func (r *RedisMirror) RecordMove(ctx context.Context, move models.MoveRecord) error {
	if move.CreatedAt.IsZero() {
		move.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(move)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.movesKey(move.RoomID), data).Err()
}

func (r *RedisMirror) FinishRoom(ctx context.Context, roomID, winnerID string) error {
	return r.updateRoom(ctx, roomID, func(room *models.RoomRecord) {
		room.Status = "finished"
		room.WinnerID = models.NullableID(winnerID)
	}, nil)
}

func (r *RedisMirror) ResetRoom(ctx context.Context, roomID, currentTurn string) error {
	return r.updateRoom(ctx, roomID, func(room *models.RoomRecord) {
		room.Status = "playing"
		room.CurrentTurn = currentTurn
		room.WinnerID = nil
	}, []string{r.movesKey(roomID)})
}

// updateRoom rewrites the room document under WATCH and deletes the extra
// keys in the same transaction.
func (r *RedisMirror) updateRoom(ctx context.Context, roomID string, mutate func(*models.RoomRecord), del []string) error {
	key := r.roomKey(roomID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}

		var room models.RoomRecord
		if err := json.Unmarshal(raw, &room); err != nil {
			return fmt.Errorf("decode room %s: %w", roomID, err)
		}
		mutate(&room)
		room.UpdatedAt = time.Now().UTC()

		doc, err := json.Marshal(room)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			if len(del) > 0 {
				pipe.Del(ctx, del...)
			}
			return nil
		})
		return err
	}, key)
}

// Room reads back the stored document with its players and moves.
func (r *RedisMirror) Room(ctx context.Context, roomID string) (models.RoomRecord, []models.MoveRecord, error) {
	var room models.RoomRecord

	raw, err := r.client.Get(ctx, r.roomKey(roomID)).Bytes()
	if err == redis.Nil {
		return room, nil, ErrRecordNotFound
	}
	if err != nil {
		return room, nil, err
	}
	if err := json.Unmarshal(raw, &room); err != nil {
		return room, nil, err
	}

	players, err := r.client.HGetAll(ctx, r.playersKey(roomID)).Result()
	if err != nil {
		return room, nil, err
	}
	for _, data := range players {
		var p models.PlayerRecord
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return room, nil, err
		}
		room.Players = append(room.Players, p)
	}

	entries, err := r.client.LRange(ctx, r.movesKey(roomID), 0, -1).Result()
	if err != nil {
		return room, nil, err
	}
	moves := make([]models.MoveRecord, 0, len(entries))
	for _, data := range entries {
		var m models.MoveRecord
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return room, nil, err
		}
		moves = append(moves, m)
	}
	return room, moves, nil
}

func (r *RedisMirror) Close() error {
	return r.client.Close()
}
