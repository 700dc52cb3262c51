// Package domain holds the user directory: identities seen through the
// external identity provider and the role each one holds here.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/identity"
)

type User struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	Subject    string        `gorm:"type:text;not null;uniqueIndex" json:"subject"`
	Name       string        `gorm:"not null;default:''" json:"name"`
	Email      string        `gorm:"not null;default:''" json:"email,omitempty"`
	Role       identity.Role `gorm:"not null;default:'viewer'" json:"role"`
	LastSeenAt *time.Time    `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Actor is the identity the rest of the system sees for this user.
func (u User) Actor() identity.Actor {
	return identity.Actor{ID: u.ID.String(), Name: u.Name, Role: u.Role}
}
