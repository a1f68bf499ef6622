package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/codepad-io/go-codepad/internal/store"
	"github.com/codepad-io/go-codepad/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound protocol envelope. Exactly one variant field
// is set per frame; the JSON keys are the wire event names.
type ClientMessage struct {
	BaseMessage
	Join       *Join       `json:"join,omitempty"`
	CodeChange *CodeChange `json:"code-change,omitempty"`
	SyncCode   *SyncCode   `json:"sync-code,omitempty"`
	SyncFiles  *SyncFiles  `json:"sync-files,omitempty"`
	CreateFile *CreateFile `json:"create-file,omitempty"`
	DeleteFile *DeleteFile `json:"delete-file,omitempty"`
	RenameFile *RenameFile `json:"rename-file,omitempty"`
	SwitchFile *SwitchFile `json:"switch-file,omitempty"`
	client     *Client
}

type Join struct {
	RoomId   string `json:"roomId"`
	Username string `json:"username"`
}

// CodeChange is both an inbound edit and the outbound rebroadcast: a full
// content replacement for one file, last write wins.
type CodeChange struct {
	RoomId string `json:"roomId,omitempty"`
	FileId string `json:"fileId"`
	Code   string `json:"code"`
}

type SyncCode struct {
	RoomId   string `json:"roomId"`
	FileId   string `json:"fileId"`
	SocketId string `json:"socketId,omitempty"`
}

type SyncFiles struct {
	RoomId string `json:"roomId"`
}

type CreateFile struct {
	RoomId   string `json:"roomId"`
	FileName string `json:"fileName"`
	Language string `json:"language,omitempty"`
}

type DeleteFile struct {
	RoomId string `json:"roomId"`
	FileId string `json:"fileId"`
}

type RenameFile struct {
	RoomId  string `json:"roomId"`
	FileId  string `json:"fileId"`
	NewName string `json:"newName"`
}

type SwitchFile struct {
	RoomId string `json:"roomId"`
	FileId string `json:"fileId"`
}

// RoomId returns the room the message is scoped to, or "" for a join or an
// empty frame.
func (cm *ClientMessage) RoomId() string {
	switch {
	case cm.CodeChange != nil:
		return cm.CodeChange.RoomId
	case cm.SyncCode != nil:
		return cm.SyncCode.RoomId
	case cm.SyncFiles != nil:
		return cm.SyncFiles.RoomId
	case cm.CreateFile != nil:
		return cm.CreateFile.RoomId
	case cm.DeleteFile != nil:
		return cm.DeleteFile.RoomId
	case cm.RenameFile != nil:
		return cm.RenameFile.RoomId
	case cm.SwitchFile != nil:
		return cm.SwitchFile.RoomId
	}
	return ""
}

// Mutating reports whether a failed lookup should be surfaced to the sender
// as a rejection ack. Best-effort sync requests are silently dropped instead.
func (cm *ClientMessage) Mutating() bool {
	return cm.CreateFile != nil || cm.DeleteFile != nil || cm.RenameFile != nil || cm.SwitchFile != nil
}

// ServerMessage is the outbound protocol envelope. The JSON keys are the
// wire event names.
type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Joined       *Joined       `json:"joined,omitempty"`
	Disconnected *Disconnected `json:"disconnected,omitempty"`
	CodeChange   *CodeChange   `json:"code-change,omitempty"`
	FilesSynced  *FilesSynced  `json:"files-synced,omitempty"`
	FileCreated  *FileCreated  `json:"file-created,omitempty"`
	FileDeleted  *FileDeleted  `json:"file-deleted,omitempty"`
	FileRenamed  *FileRenamed  `json:"file-renamed,omitempty"`
	FileSwitched *FileSwitched `json:"file-switched,omitempty"`
	SkipClient   *Client       `json:"-"`
}

type Joined struct {
	Clients  []types.ClientInfo `json:"clients"`
	Username string             `json:"username"`
	SocketId string             `json:"socketId"`
	Files    []types.File       `json:"files"`
}

type Disconnected struct {
	SocketId string `json:"socketId"`
	Username string `json:"username"`
}

type FilesSynced struct {
	Files        []types.File `json:"files"`
	ActiveFileId string       `json:"activeFileId,omitempty"`
}

type FileCreated struct {
	File     types.File `json:"file"`
	Username string     `json:"username,omitempty"`
}

type FileDeleted struct {
	FileId       string `json:"fileId"`
	ActiveFileId string `json:"activeFileId,omitempty"`
}

type FileRenamed struct {
	FileId  string `json:"fileId"`
	NewName string `json:"newName"`
}

type FileSwitched struct {
	FileId   string `json:"fileId"`
	Username string `json:"username,omitempty"`
}

// Response is a direct acknowledgment to the initiating client, keyed to
// HTTP status codes.
type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

func NoErrOK(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrFileNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "file not found",
		},
	}
}

func ErrLastFile(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        "cannot delete the last file in a room",
		},
	}
}

func ErrInvalidName(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "file name cannot be empty",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

// rejectionFor maps a store error to the matching protocol ack.
func rejectionFor(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return ErrRoomNotFound(id)
	case errors.Is(err, store.ErrFileNotFound):
		return ErrFileNotFound(id)
	case errors.Is(err, store.ErrLastFile):
		return ErrLastFile(id)
	case errors.Is(err, store.ErrEmptyName):
		return ErrInvalidName(id)
	}
	return ErrInternalError(id)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
