// models/models.go
package models

import (
	"time"
)

// RoomRecord 房间记录. ID is the durable uuid, Code the live room code.
type RoomRecord struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	Code        string         `gorm:"index;not null" json:"code"`
	OwnerID     string         `gorm:"not null" json:"ownerId"`
	CurrentTurn string         `gorm:"not null" json:"currentTurn"`
	Status      string         `gorm:"not null" json:"status"`
	WinnerID    *string        `json:"winnerId"`
	Players     []PlayerRecord `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"players,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (RoomRecord) TableName() string { return "rooms" }

// PlayerRecord 玩家记录
type PlayerRecord struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	RoomID    string    `gorm:"index;not null;type:uuid" json:"roomId"`
	Username  string    `gorm:"not null" json:"username"`
	Symbol    string    `gorm:"size:1;not null" json:"symbol"`
	CreatedAt time.Time `json:"createdAt"`
}

func (PlayerRecord) TableName() string { return "players" }

// MoveRecord 落子记录
type MoveRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RoomID    string    `gorm:"index;not null;type:uuid" json:"roomId"`
	PlayerID  string    `gorm:"not null" json:"playerId"`
	Position  int       `gorm:"column:position;not null" json:"index"`
	Symbol    string    `gorm:"size:1;not null" json:"symbol"`
	CreatedAt time.Time `json:"createdAt"`
}

func (MoveRecord) TableName() string { return "moves" }

// MirrorEvent is one mirror write as published on an event stream.
type MirrorEvent struct {
	Op          string        `json:"op"`
	RoomID      string        `json:"roomId"`
	Room        *RoomRecord   `json:"room,omitempty"`
	Player      *PlayerRecord `json:"player,omitempty"`
	Move        *MoveRecord   `json:"move,omitempty"`
	WinnerID    *string       `json:"winnerId,omitempty"`
	CurrentTurn string        `json:"currentTurn,omitempty"`
	At          time.Time     `json:"at"`
}

// NullableID maps "" to nil.
func NullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
