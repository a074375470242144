package models

import (
	"time"
)

// User is the backing user record. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id" dynamodbav:"id"`
	Email        string    `json:"email" dynamodbav:"email"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	Role         Role      `json:"role" dynamodbav:"role"`
	Avatar       string    `json:"avatar,omitempty" dynamodbav:"avatar,omitempty"`
	FirstName    string    `json:"first_name,omitempty" dynamodbav:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty" dynamodbav:"last_name,omitempty"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER!" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

// AuthUser is the read-mostly projection of User handed to clients.
type AuthUser struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Role      *Role   `json:"role,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

func (u *User) AuthUser() *AuthUser {
	au := &AuthUser{
		ID:        u.ID,
		Email:     u.Email,
		Avatar:    optional(u.Avatar),
		FirstName: optional(u.FirstName),
		LastName:  optional(u.LastName),
	}
	if u.Role != "" {
		role := u.Role
		au.Role = &role
	}
	return au
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
