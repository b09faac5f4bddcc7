package models

import (
	"strings"
	"time"
)

type User struct {
	Email        string    `json:"email" dynamodbav:"email"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	Role         Role      `json:"role" dynamodbav:"role"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// NormalizeEmail lowercases an email address. Emails are unique
// case-insensitively, so every lookup and every stored key goes
// through this first.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) GetPK() string {
	return "USER#" + NormalizeEmail(u.Email)
}

func (u *User) GetSK() string {
	return "METADATA"
}
