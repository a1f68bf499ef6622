package store

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrFileNotFound = errors.New("file not found")
	ErrLastFile     = errors.New("cannot delete the last file in a room")
	ErrEmptyName    = errors.New("file name cannot be empty")
)
