package domain

import "time"

// Room is a chat room. Secret is stored and compared in plaintext; an empty
// Secret means the room is open.
type Room struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	CreatedBy string    `json:"created_by" bson:"created_by"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	Secret    string    `json:"-" bson:"password,omitempty"`
}

// Gated reports whether joining the room requires a secret.
func (r Room) Gated() bool {
	return r.Secret != ""
}

// Admits reports whether the supplied secret grants entry to the room.
func (r Room) Admits(secret string) bool {
	return !r.Gated() || r.Secret == secret
}

// NewRoom is the insert payload for a room.
type NewRoom struct {
	Name      string
	CreatedBy string
	Secret    string
}
