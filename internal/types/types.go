package types

import (
	"time"
)

// File is a single named document within a room. Files are identified by
// id, not name; duplicate names are allowed.
type File struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClientInfo is a single roster entry: the ephemeral connection id and the
// display name supplied at join time.
type ClientInfo struct {
	SocketId string `json:"socketId"`
	Username string `json:"username"`
}

// RoomSnapshot is a full copy of a room's current file set, used to
// initialize or resynchronize a client.
type RoomSnapshot struct {
	RoomId       string `json:"roomId"`
	Files        []File `json:"files"`
	ActiveFileId string `json:"activeFileId,omitempty"`
}
