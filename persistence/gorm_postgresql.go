// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/tictactoe/models"
)

// PostgresConfig 数据库连接参数
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c PostgresConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslmode)
}

// GormMirror 使用GORM的PostgreSQL镜像
type GormMirror struct {
	db *gorm.DB
}

// NewGormMirror 创建GORM PostgreSQL数据库连接
func NewGormMirror(cfg PostgresConfig) (*GormMirror, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormMirrorFromDB(db)
}

// NewGormMirrorFromDB wraps an open handle and migrates the schema.
func NewGormMirrorFromDB(db *gorm.DB) (*GormMirror, error) {
	// 自动迁移表结构
	if err := db.AutoMigrate(
		&models.RoomRecord{},
		&models.PlayerRecord{},
		&models.MoveRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormMirror{db: db}, nil
}

// CreateRoom inserts the room together with its players.
func (g *GormMirror) CreateRoom(ctx context.Context, room models.RoomRecord) error {
	return g.db.WithContext(ctx).Create(&room).Error
}

func (g *GormMirror) AddPlayer(ctx context.Context, roomID string, player models.PlayerRecord) error {
	player.RoomID = roomID
	return g.db.WithContext(ctx).Create(&player).Error
}

func (g *GormMirror) RecordMove(ctx context.Context, move models.MoveRecord) error {
	return g.db.WithContext(ctx).Create(&move).Error
}

func (g *GormMirror) FinishRoom(ctx context.Context, roomID, winnerID string) error {
	result := g.db.WithContext(ctx).
		Model(&models.RoomRecord{}).
		Where("id = ?", roomID).
		Updates(map[string]any{
			"status":    "finished",
			"winner_id": models.NullableID(winnerID),
		})
	return rowsAffected(result)
}

// ResetRoom 清空落子并重新开始
func (g *GormMirror) ResetRoom(ctx context.Context, roomID, currentTurn string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.MoveRecord{}).Error; err != nil {
			return err
		}
		result := tx.Model(&models.RoomRecord{}).
			Where("id = ?", roomID).
			Updates(map[string]any{
				"status":       "playing",
				"current_turn": currentTurn,
				"winner_id":    nil,
			})
		return rowsAffected(result)
	})
}

func rowsAffected(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close 关闭数据库连接
func (g *GormMirror) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
