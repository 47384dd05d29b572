package domain

import "time"

// Profile is the public face of an Identity. ID equals the Identity ID.
type Profile struct {
	ID        string    `json:"id" bson:"_id"`
	Username  string    `json:"username" bson:"username"`
	AvatarURL string    `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Username  string
	AvatarURL string
}
