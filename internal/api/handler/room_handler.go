package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RoomHandler serves the room list and the open room.
type RoomHandler struct {
	nav       Navigation
	directory Directory
	stream    Stream
}

func NewRoomHandler(nav Navigation, directory Directory, stream Stream) *RoomHandler {
	return &RoomHandler{nav: nav, directory: directory, stream: stream}
}

// ListRooms enters the room list and returns its snapshot. Calling it after a
// failed load retries the load.
//
// @Summary      List rooms
// @Tags         rooms
// @Produce      json
// @Success      200  {object}  roomsResponse
// @Failure      502  {object}  errorResponse
// @Router       /api/rooms [get]
func (h *RoomHandler) ListRooms(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	if err := h.nav.ShowRooms(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRoomsResponse(h.directory.Snapshot(), id.ID))
}

// CreateRoom requests a new room. It reaches the list through the change feed.
//
// @Summary      Create room
// @Tags         rooms
// @Accept       json
// @Produce      json
// @Param        body  body      createRoomRequest  true  "Room"
// @Success      201   {object}  roomView
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /api/rooms [post]
func (h *RoomHandler) CreateRoom(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	var req createRoomRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	room, err := h.directory.Create(c.Request().Context(), req.Name, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toRoomView(*room, id.ID))
}

// DeleteRoom removes a room the caller created, with its messages.
//
// @Summary      Delete room
// @Tags         rooms
// @Param        id   path  string  true  "Room ID"
// @Success      204
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /api/rooms/{id} [delete]
func (h *RoomHandler) DeleteRoom(c echo.Context) error {
	if err := h.directory.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// JoinRoom checks the room password and opens the room.
//
// @Summary      Join room
// @Tags         rooms
// @Accept       json
// @Produce      json
// @Param        id    path      string           true   "Room ID"
// @Param        body  body      joinRoomRequest  false  "Password for gated rooms"
// @Success      200   {object}  streamResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Router       /api/rooms/{id}/join [post]
func (h *RoomHandler) JoinRoom(c echo.Context) error {
	var req joinRoomRequest
	if c.Request().ContentLength != 0 {
		if err := bindValid(c, &req); err != nil {
			return err
		}
	}
	if _, err := h.nav.JoinRoom(c.Request().Context(), c.Param("id"), req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toStreamResponse(h.stream.Snapshot()))
}

// CurrentRoom returns the open room's messages.
//
// @Summary      Open room
// @Tags         room
// @Produce      json
// @Success      200  {object}  streamResponse
// @Failure      409  {object}  errorResponse
// @Router       /api/room [get]
func (h *RoomHandler) CurrentRoom(c echo.Context) error {
	snap := h.stream.Snapshot()
	if !snap.Open {
		return echo.NewHTTPError(http.StatusConflict, "no room open")
	}
	return c.JSON(http.StatusOK, toStreamResponse(snap))
}

// SendMessage posts to the open room. The message is not echoed here; it
// arrives through the change feed like everyone else's.
//
// @Summary      Send message
// @Tags         room
// @Accept       json
// @Produce      json
// @Param        body  body      sendMessageRequest  true  "Message"
// @Success      202   {object}  messageResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /api/room/messages [post]
func (h *RoomHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if err := h.stream.Send(c.Request().Context(), req.Content); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, messageResponse{Message: "message sent"})
}

// LeaveRoom closes the room and returns to the room list.
//
// @Summary      Leave room
// @Tags         room
// @Produce      json
// @Success      200  {object}  roomsResponse
// @Router       /api/room/leave [post]
func (h *RoomHandler) LeaveRoom(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	if err := h.nav.LeaveRoom(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRoomsResponse(h.directory.Snapshot(), id.ID))
}
