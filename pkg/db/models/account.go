package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is the tenant boundary. Every other row is scoped to exactly one
// account and accounts are never deleted.
type Account struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
