// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
	DefaultName       = "Guest"
)

var (
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type UserID string

// Identity is who the current user is, as reported by the identity provider.
type Identity struct {
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURI   string `json:"avatar_uri"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty display name falls back to DefaultName.
func NewIdentity(id, displayName, avatarURI string) (*Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = DefaultName
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Identity{UserID: UserID(id), DisplayName: displayName, AvatarURI: avatarURI}, nil
}
