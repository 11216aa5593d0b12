// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"

	"github.com/wfunc/tictactoe/models"
)

// SQLMirror 使用 database/sql 与 lib/pq 的镜像实现
type SQLMirror struct {
	db *sql.DB
}

// NewSQLMirror 创建 PostgreSQL 数据库连接
func NewSQLMirror(ctx context.Context, cfg PostgresConfig) (*SQLMirror, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}

	return &SQLMirror{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id UUID PRIMARY KEY,
            code VARCHAR(16) NOT NULL,
            owner_id TEXT NOT NULL,
            current_turn TEXT NOT NULL,
            status VARCHAR(16) NOT NULL,
            winner_id TEXT,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS players (
            id TEXT PRIMARY KEY,
            room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            username TEXT NOT NULL,
            symbol VARCHAR(1) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS moves (
            id BIGSERIAL PRIMARY KEY,
            room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            player_id TEXT NOT NULL,
            position SMALLINT NOT NULL,
            symbol VARCHAR(1) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		// 创建索引以提高查询性能
		`CREATE INDEX IF NOT EXISTS idx_rooms_code ON rooms(code)`,
		`CREATE INDEX IF NOT EXISTS idx_players_room_id ON players(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_moves_room_id ON moves(room_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *SQLMirror) CreateRoom(ctx context.Context, room models.RoomRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO rooms (id, code, owner_id, current_turn, status, winner_id)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, room.ID, room.Code, room.OwnerID, room.CurrentTurn, room.Status, room.WinnerID)
	if err != nil {
		return err
	}

	for _, player := range room.Players {
		if err := insertPlayer(ctx, tx, room.ID, player); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *SQLMirror) AddPlayer(ctx context.Context, roomID string, player models.PlayerRecord) error {
	return insertPlayer(ctx, p.db, roomID, player)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPlayer(ctx context.Context, db execer, roomID string, player models.PlayerRecord) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO players (id, room_id, username, symbol)
        VALUES ($1, $2, $3, $4)
    `, player.ID, roomID, player.Username, player.Symbol)
	return err
}

func (p *SQLMirror) RecordMove(ctx context.Context, move models.MoveRecord) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO moves (room_id, player_id, position, symbol)
        VALUES ($1, $2, $3, $4)
    `, move.RoomID, move.PlayerID, move.Position, move.Symbol)
	return err
}

func (p *SQLMirror) FinishRoom(ctx context.Context, roomID, winnerID string) error {
	result, err := p.db.ExecContext(ctx, `
        UPDATE rooms SET status = 'finished', winner_id = $2, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1
    `, roomID, models.NullableID(winnerID))
	return checkUpdated(result, err)
}

func (p *SQLMirror) ResetRoom(ctx context.Context, roomID, currentTurn string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM moves WHERE room_id = $1`, roomID); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `
        UPDATE rooms SET status = 'playing', current_turn = $2, winner_id = NULL, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1
    `, roomID, currentTurn)
	if err := checkUpdated(result, err); err != nil {
		return err
	}
	return tx.Commit()
}

func checkUpdated(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close 关闭数据库连接
func (p *SQLMirror) Close() error {
	return p.db.Close()
}
