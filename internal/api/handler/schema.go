package handler

import (
	"time"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/service"
)

// messageTimeLayout renders message timestamps as HH:mm.
const messageTimeLayout = "15:04"

// --- Request types ---

// Presence checks happen in the services so their messages reach the user
// unchanged; tags here only bound sizes and formats.

type credentialsRequest struct {
	Email    string `json:"email"    validate:"max=254"`
	Password string `json:"password" validate:"max=72"`
}

type profileRequest struct {
	Username  string `json:"username"   validate:"max=64"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
}

type createRoomRequest struct {
	Name     string `json:"name"     validate:"max=100"`
	Password string `json:"password" validate:"max=100"`
}

type joinRoomRequest struct {
	Password string `json:"password"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"max=4000"`
}

// --- Response types ---

type messageResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	Status   domain.SessionStatus `json:"status"`
	Identity *domain.Identity     `json:"identity,omitempty"`
	Route    service.Route        `json:"route"`
}

type profileResponse struct {
	Message string          `json:"message,omitempty"`
	Profile *domain.Profile `json:"profile"`
}

type roomView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Gated     bool      `json:"gated"`
	Own       bool      `json:"own"`
}

type roomsResponse struct {
	Open     bool       `json:"open"`
	Loading  bool       `json:"loading"`
	Creating bool       `json:"creating"`
	Error    string     `json:"error,omitempty"`
	Rooms    []roomView `json:"rooms"`
}

type messageView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Time      string    `json:"time"`
	CreatedAt time.Time `json:"created_at"`
}

type streamResponse struct {
	Open     bool          `json:"open"`
	RoomID   string        `json:"room_id,omitempty"`
	RoomName string        `json:"room_name,omitempty"`
	Loading  bool          `json:"loading"`
	Error    string        `json:"error,omitempty"`
	Messages []messageView `json:"messages"`
}

// --- Mappers ---

func toRoomView(r domain.Room, viewer string) roomView {
	return roomView{
		ID:        r.ID,
		Name:      r.Name,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		Gated:     r.Gated(),
		Own:       viewer != "" && r.CreatedBy == viewer,
	}
}

func toRoomsResponse(s service.DirectorySnapshot, viewer string) roomsResponse {
	out := roomsResponse{
		Open:     s.Open,
		Loading:  s.Loading,
		Creating: s.Creating,
		Error:    s.Error,
		Rooms:    make([]roomView, 0, len(s.Rooms)),
	}
	for _, r := range s.Rooms {
		out.Rooms = append(out.Rooms, toRoomView(r, viewer))
	}
	return out
}

func toMessageView(m domain.Message) messageView {
	return messageView{
		ID:        m.ID,
		UserID:    m.UserID,
		Author:    m.AuthorName(),
		Content:   m.Content,
		Time:      m.CreatedAt.UTC().Format(messageTimeLayout),
		CreatedAt: m.CreatedAt,
	}
}

func toStreamResponse(s service.StreamSnapshot) streamResponse {
	out := streamResponse{
		Open:     s.Open,
		RoomID:   s.RoomID,
		RoomName: s.RoomName,
		Loading:  s.Loading,
		Error:    s.Error,
		Messages: make([]messageView, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		out.Messages = append(out.Messages, toMessageView(m))
	}
	return out
}

func toSessionResponse(st domain.SessionState, route service.Route) sessionResponse {
	return sessionResponse{Status: st.Status, Identity: st.Identity, Route: route}
}

func toProfileUpdate(r profileRequest) domain.ProfileUpdate {
	return domain.ProfileUpdate{Username: r.Username, AvatarURL: r.AvatarURL}
}
