package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// View names the screen the user is on.
type View string

const (
	ViewLoading View = "loading"
	ViewLogin   View = "login"
	ViewRooms   View = "rooms"
	ViewRoom    View = "room"
)

// Route is the current screen plus, for ViewRoom, the open room.
type Route struct {
	View   View   `json:"view"`
	RoomID string `json:"room_id,omitempty"`
}

// Navigator owns view lifecycle: at most one directory subscription and one
// message subscription exist at a time, each opened on entry and closed on
// exit.
type Navigator struct {
	session   *SessionStore
	directory *RoomDirectory
	stream    *MessageStream
	log       zerolog.Logger

	mu    sync.Mutex
	route Route
}

// NewNavigator returns a Navigator with no view open.
func NewNavigator(session *SessionStore, directory *RoomDirectory, stream *MessageStream, log zerolog.Logger) *Navigator {
	return &Navigator{session: session, directory: directory, stream: stream, log: log}
}

// ShowRooms leaves any open room and enters the room list. A list whose
// initial load failed is reopened, which is the manual retry.
func (n *Navigator) ShowRooms(ctx context.Context) error {
	if _, err := n.session.Identity(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.stream.Close()
	if n.directory.Failed() {
		n.directory.Close()
	}
	n.route = Route{View: ViewRooms}
	if n.directory.IsOpen() {
		return nil
	}
	return n.directory.Open(ctx)
}

// JoinRoom checks the room secret and, when admitted, swaps the room list for
// the room's message stream.
func (n *Navigator) JoinRoom(ctx context.Context, roomID, secret string) (*domain.Room, error) {
	if _, err := n.session.Identity(); err != nil {
		return nil, err
	}
	room, err := n.directory.Join(ctx, roomID, secret)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.directory.Close()
	n.stream.Close()
	n.route = Route{View: ViewRoom, RoomID: room.ID}
	n.log.Debug().Str("room_id", room.ID).Msg("entering room")
	if err := n.stream.Open(ctx, room.ID); err != nil {
		return room, err
	}
	return room, nil
}

// LeaveRoom returns to the room list.
func (n *Navigator) LeaveRoom(ctx context.Context) error {
	return n.ShowRooms(ctx)
}

// CloseAll closes every view.
func (n *Navigator) CloseAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stream.Close()
	n.directory.Close()
	n.route = Route{}
}

// Route returns the screen to render. The session state takes precedence
// over the last navigation.
func (n *Navigator) Route() Route {
	switch st := n.session.State(); {
	case st.Status == domain.StatusUninitialized || st.Status == domain.StatusLoading:
		return Route{View: ViewLoading}
	case !st.Authenticated():
		return Route{View: ViewLogin}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.route.View == "" {
		return Route{View: ViewRooms}
	}
	return n.route
}

// Run closes every view whenever the acting identity goes away or changes.
// It returns when ctx is done.
func (n *Navigator) Run(ctx context.Context) {
	changes, stop := n.session.Watch()
	defer stop()

	current := ""
	if id, err := n.session.Identity(); err == nil {
		current = id.ID
	} else {
		n.CloseAll()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			next := ""
			if id, err := n.session.Identity(); err == nil {
				next = id.ID
			}
			if current != "" && next != current {
				n.log.Info().Msg("session ended, closing views")
				n.CloseAll()
			}
			current = next
		}
	}
}
