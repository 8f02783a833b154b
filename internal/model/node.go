package model

import "time"

// RealtimeNode is one leaf of the realtime document tree persisted in SQL.
type RealtimeNode struct {
	Path      string    `gorm:"primaryKey;size:512"`
	Value     string    `gorm:"type:text;not null"`
	Version   int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

// TableName pins the table name used by the realtime store.
func (RealtimeNode) TableName() string {
	return "realtime_nodes"
}
