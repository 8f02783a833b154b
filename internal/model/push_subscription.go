package model

import "time"

// PushSubscription holds the information for a browser push subscription
// registered by a watch session.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	SessionID string    `gorm:"size:64;index;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
