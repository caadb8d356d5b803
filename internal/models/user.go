package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the aggregate root of an identity record. It owns its secondary addresses.
type User struct {
	BaseModel
	FirstName    string      `gorm:"size:255;not null" json:"first_name"`
	LastName     string      `gorm:"size:255;not null" json:"last_name"`
	DisplayName  string      `gorm:"size:511" json:"display_name"`
	Phone        string      `gorm:"size:20;not null;uniqueIndex" json:"phone"`
	Email        string      `gorm:"size:255;not null" json:"email"`
	PasswordHash string      `gorm:"not null" json:"-"`
	Emails       []UserEmail `gorm:"foreignKey:UserID" json:"emails"`
}

// ComposeDisplayName derives the display name from the name parts.
func ComposeDisplayName(firstName, lastName string) string {
	return firstName + " " + lastName
}

// UserEmail is one secondary contact address of a user.
type UserEmail struct {
	BaseModel
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Email    string    `gorm:"size:255;not null;index" json:"email"`
	Position int       `gorm:"not null;default:0" json:"-"`
}

// Address ledger slots.
const (
	SlotPrimary   = "primary"
	SlotSecondary = "secondary"
)

// LedgerEntry is one row of the global address index. The primary key on
// Address is what keeps every address unique across users and slots.
type LedgerEntry struct {
	Address   string    `gorm:"primaryKey;size:255" json:"address"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Slot      string    `gorm:"size:16;not null" json:"slot"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the ledger table name.
func (LedgerEntry) TableName() string {
	return "address_ledger"
}
