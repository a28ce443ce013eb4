package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	UserTypeGuest   = "guest"
	UserTypeRegular = "regular"
	UserTypePremium = "premium"
)

type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash *string    `json:"-"`
	Type         string     `json:"type"`
	PremiumUntil *time.Time `json:"premium_until"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// EffectiveType downgrades a lapsed premium membership to regular.
func (u *User) EffectiveType(now time.Time) string {
	if u.Type == UserTypePremium && (u.PremiumUntil == nil || !u.PremiumUntil.After(now)) {
		return UserTypeRegular
	}
	return u.Type
}

// SessionUser is the user as exposed to the client.
type SessionUser struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email,omitempty"`
	Type         string     `json:"type"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
}

func (u *User) Session(now time.Time) SessionUser {
	s := SessionUser{ID: u.ID, Type: u.EffectiveType(now)}
	if u.Type != UserTypeGuest {
		s.Email = u.Email
	}
	if s.Type == UserTypePremium {
		s.PremiumUntil = u.PremiumUntil
	}
	return s
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthTokens struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	User         SessionUser `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
