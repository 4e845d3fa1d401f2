package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	RoomCodeLen      = 6
	RoomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var ErrRoomCodeInvalid = errors.New("room code invalid")

type RoomID string

// Room is created once by whoever starts a session and never mutated.
type Room struct {
	ID        RoomID    `json:"code"`
	CreatedBy UserID    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ParseRoomID normalises a human-entered code and checks it against the alphabet.
func ParseRoomID(raw string) (RoomID, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != RoomCodeLen {
		return "", ErrRoomCodeInvalid
	}
	for _, r := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, r) {
			return "", ErrRoomCodeInvalid
		}
	}
	return RoomID(code), nil
}
