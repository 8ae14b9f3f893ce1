package domain

import "time"

// LastSeenModel is the GORM model for the user_last_seen table.
type LastSeenModel struct {
	UserID    string    `gorm:"column:user_id;type:varchar(36);primaryKey"`
	LastSeen  time.Time `gorm:"column:last_seen;not null;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (LastSeenModel) TableName() string { return "user_last_seen" }
