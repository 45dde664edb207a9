package models

import "gorm.io/gorm"

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleIngest = "ingest"
)

type User struct {
	gorm.Model
	Name     string `json:"name"`
	Email    string `json:"email" gorm:"unique"`
	Password string `json:"-"`
	Phone    string `json:"phone"`
	Role     string `json:"role"` // "owner", "admin", "ingest"
}
