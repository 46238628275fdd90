package model

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// Friend is an accepted friend with the presence as last reported by the
// server. Presence is only ever set from snapshot or incremental updates.
type Friend struct {
	FriendshipID string         `json:"friendshipId"`
	FriendID     string         `json:"friendId"`
	Name         string         `json:"name"`
	Email        string         `json:"email,omitempty"`
	Presence     PresenceStatus `json:"presence,omitempty"`
	LastSeen     *time.Time     `json:"lastSeen,omitempty"`
}
