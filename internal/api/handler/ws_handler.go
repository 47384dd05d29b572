package handler

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	frameSession = "session"
	frameRooms   = "rooms"
	frameRoom    = "room"

	writeTimeout = 5 * time.Second
)

// frame is one push to the browser: the full current state of one view.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// LiveHandler pushes view state over a websocket whenever a view changes.
type LiveHandler struct {
	session   SessionService
	nav       Navigation
	directory Directory
	stream    Stream
	accept    *websocket.AcceptOptions
	log       zerolog.Logger
}

func NewLiveHandler(session SessionService, nav Navigation, directory Directory, stream Stream, originPatterns []string, log zerolog.Logger) *LiveHandler {
	return &LiveHandler{
		session:   session,
		nav:       nav,
		directory: directory,
		stream:    stream,
		accept:    &websocket.AcceptOptions{OriginPatterns: originPatterns},
		log:       log,
	}
}

// Live upgrades to a websocket, sends every view once, then sends a view
// again each time it changes. Incoming messages are ignored.
//
// @Summary      Live view updates
// @Tags         session
// @Router       /api/ws [get]
func (h *LiveHandler) Live(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), h.accept)
	if err != nil {
		// Accept has already written the failure response.
		h.log.Debug().Err(err).Msg("websocket accept failed")
		return nil
	}
	defer conn.CloseNow()

	sessionCh, stopSession := h.session.Watch()
	defer stopSession()
	roomsCh, stopRooms := h.directory.Watch()
	defer stopRooms()
	roomCh, stopRoom := h.stream.Watch()
	defer stopRoom()

	ctx := conn.CloseRead(c.Request().Context())

	for _, kind := range []string{frameSession, frameRooms, frameRoom} {
		if err := h.push(ctx, conn, kind); err != nil {
			return nil
		}
	}

	for {
		var kind string
		select {
		case <-ctx.Done():
			return nil
		case <-sessionCh:
			kind = frameSession
		case <-roomsCh:
			kind = frameRooms
		case <-roomCh:
			kind = frameRoom
		}
		if err := h.push(ctx, conn, kind); err != nil {
			h.log.Debug().Err(err).Str("frame", kind).Msg("websocket push failed")
			return nil
		}
	}
}

func (h *LiveHandler) push(ctx context.Context, conn *websocket.Conn, kind string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, h.build(kind))
}

func (h *LiveHandler) build(kind string) frame {
	st := h.session.State()
	switch kind {
	case frameRooms:
		viewer := ""
		if st.Identity != nil {
			viewer = st.Identity.ID
		}
		return frame{Type: kind, Data: toRoomsResponse(h.directory.Snapshot(), viewer)}
	case frameRoom:
		return frame{Type: kind, Data: toStreamResponse(h.stream.Snapshot())}
	default:
		return frame{Type: frameSession, Data: toSessionResponse(st, h.nav.Route())}
	}
}
