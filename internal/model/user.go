package model

import "time"

// User is a web application account that owns tasks.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:150;uniqueIndex;not null"`
	TimeZone  string // IANA name; empty means the configured display zone
	CreatedAt time.Time
	UpdatedAt time.Time
}
