package domain

import (
	"slices"
	"time"
)

// Address is an opaque signaling endpoint used to open a direct connection to a client.
type Address string

// Participant is the durable per-(room, user) presence row.
// Only the owning client ever writes it.
type Participant struct {
	RoomID           RoomID    `json:"room_id"`
	UserID           UserID    `json:"user_id"`
	DisplayName      string    `json:"display_name"`
	AvatarURI        string    `json:"avatar_uri"`
	IsMuted          bool      `json:"is_muted"`
	VideoOn          bool      `json:"video_on"`
	IsHost           bool      `json:"is_host"`
	SignalingAddress Address   `json:"signaling_address,omitempty"`
	JoinedAt         time.Time `json:"joined_at"`
}

// ParticipantPatch names the fields of a partial update; nil fields are left untouched.
type ParticipantPatch struct {
	IsMuted          *bool    `json:"is_muted,omitempty"`
	VideoOn          *bool    `json:"video_on,omitempty"`
	SignalingAddress *Address `json:"signaling_address,omitempty"`
}

func (p ParticipantPatch) Empty() bool {
	return p.IsMuted == nil && p.VideoOn == nil && p.SignalingAddress == nil
}

// Apply returns a copy of rec with the named fields overwritten.
func (p ParticipantPatch) Apply(rec Participant) Participant {
	if p.IsMuted != nil {
		rec.IsMuted = *p.IsMuted
	}
	if p.VideoOn != nil {
		rec.VideoOn = *p.VideoOn
	}
	if p.SignalingAddress != nil {
		rec.SignalingAddress = *p.SignalingAddress
	}
	return rec
}

// Roster is a point-in-time snapshot of the participants of one room.
type Roster []Participant

func (r Roster) Find(id UserID) (Participant, bool) {
	for _, p := range r {
		if p.UserID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (r Roster) ByAddress(addr Address) (Participant, bool) {
	if addr == "" {
		return Participant{}, false
	}
	for _, p := range r {
		if p.SignalingAddress == addr {
			return p, true
		}
	}
	return Participant{}, false
}

// Remotes returns the participants a client should hold a direct connection to:
// everyone except self who has advertised a signaling address.
func (r Roster) Remotes(self UserID) Roster {
	out := make(Roster, 0, len(r))
	for _, p := range r {
		if p.UserID == self || p.SignalingAddress == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r Roster) UserIDs() []UserID {
	out := make([]UserID, 0, len(r))
	for _, p := range r {
		out = append(out, p.UserID)
	}
	slices.Sort(out)
	return out
}
