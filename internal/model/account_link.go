package model

import "time"

// AccountLink pairs a user with an external chat. PairingToken is assigned
// once and never changes; ChannelEndpoint is nil while the user is not linked.
type AccountLink struct {
	ID              uint    `gorm:"primaryKey"`
	OwnerID         uint    `gorm:"uniqueIndex;not null"`
	Owner           User    `gorm:"constraint:OnDelete:CASCADE"`
	PairingToken    string  `gorm:"size:20;uniqueIndex;not null"`
	ChannelEndpoint *string `gorm:"size:64;uniqueIndex"`
	LinkedAt        time.Time
}

// Linked reports whether a chat endpoint is attached.
func (l AccountLink) Linked() bool {
	return l.ChannelEndpoint != nil && *l.ChannelEndpoint != ""
}
