package models

import (
	"time"

	"gorm.io/gorm"
)

// Roles as issued in access tokens. Landlords are scoped to the properties
// they own; admin and staff manage every property.
const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleLandlord = "landlord"
)

// Languages statements and emails can be written in
const (
	LocaleDE = "de"
	LocaleEN = "en"
)

// User mirrors an account of the identity provider. The row exists so
// properties, notifications and audit entries have an owner to point at.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Locale    string    `gorm:"size:8;not null" json:"locale"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Properties    []Property     `gorm:"foreignKey:OwnerID" json:"properties,omitempty"`
	Notifications []Notification `gorm:"foreignKey:UserID" json:"-"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.Role == "" {
		u.Role = RoleLandlord
	}
	if u.Locale == "" {
		u.Locale = LocaleDE
	}
	return nil
}
