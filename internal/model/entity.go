package model

import (
	"time"
)

// Snippet is a named piece of code a user saved out of a room.
type Snippet struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index:idx_snippet_user" json:"user_id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	Filename  string    `gorm:"type:varchar(200);not null" json:"filename"`
	Language  string    `gorm:"type:varchar(50);not null" json:"language"`
	Code      string    `gorm:"type:text;not null" json:"code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Snippet) TableName() string {
	return "snippets"
}
