package domain

import "time"

// UnknownAuthor is displayed for messages whose author has no profile.
const UnknownAuthor = "Unknown User"

// Message is immutable once created. Author is the profile as it was when the
// message was fetched and is never refreshed afterwards.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Author    *Profile  `json:"profile,omitempty"`
}

// AuthorName returns the author's username or UnknownAuthor.
func (m Message) AuthorName() string {
	if m.Author == nil || m.Author.Username == "" {
		return UnknownAuthor
	}
	return m.Author.Username
}

// NewMessage is the insert payload for a message.
type NewMessage struct {
	RoomID  string
	UserID  string
	Content string
}
