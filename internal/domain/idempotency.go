package domain

import "time"

// Idempotency records the analysis produced for a (user_id, key) pair so a
// retried POST returns the original record without re-running the pipeline
// or consuming quota again.
type Idempotency struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_key,priority:1"`
	Key       string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_user_key,priority:2"`
	RequestID string    `gorm:"type:char(36);not null"`
	Status    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
