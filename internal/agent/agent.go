package agent

import (
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/codepad-io/go-codepad/internal/server"
	"github.com/codepad-io/go-codepad/internal/types"
)

// Agent is the client-side synchronization agent: it holds a local mirror
// of one room's roster and file set and reconciles every inbound broadcast
// into it. The mirror converges on the server's authoritative state; a
// concurrent edit elsewhere simply overwrites local content (last write
// wins, same policy as the server).
type Agent struct {
	conn *websocket.Conn
	log  *log.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	roomId       string
	username     string
	socketId     string
	roster       []types.ClientInfo
	files        []types.File
	activeFileId string
	// codeChanges counts inbound code-change broadcasts applied to the
	// mirror; the agent's own edits are not echoed back and never count
	codeChanges int
	nextId      int

	rejections chan *server.Response
	done       chan struct{}
}

// Dial connects to a gateway websocket endpoint (ws://host/ws) and starts
// the read loop.
func Dial(url string, logger *log.Logger) (*Agent, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	a := &Agent{
		conn:       conn,
		log:        logger,
		rejections: make(chan *server.Response, 16),
		done:       make(chan struct{}),
	}

	go a.readLoop()
	return a, nil
}

func (a *Agent) Close() error {
	err := a.conn.Close()
	<-a.done
	return err
}

// Done is closed when the read loop exits, i.e. the connection is gone.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Rejections delivers acks the server sent back for rejected operations.
func (a *Agent) Rejections() <-chan *server.Response { return a.rejections }

func (a *Agent) readLoop() {
	defer close(a.done)

	for {
		var msg server.ServerMessage
		if err := a.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				a.log.Printf("agent: read: %v", err)
			}
			return
		}

		a.apply(&msg)
	}
}

// apply reconciles one inbound broadcast into the local mirror.
func (a *Agent) apply(msg *server.ServerMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case msg.Joined != nil:
		a.roster = msg.Joined.Clients
		a.files = msg.Joined.Files
		if a.socketId == "" && msg.Joined.Username == a.username {
			a.socketId = msg.Joined.SocketId
		}
		if a.activeFileId == "" && len(a.files) > 0 {
			a.activeFileId = a.files[0].Id
		}
	case msg.Disconnected != nil:
		roster := a.roster[:0]
		for _, ci := range a.roster {
			if ci.SocketId != msg.Disconnected.SocketId {
				roster = append(roster, ci)
			}
		}
		a.roster = roster
	case msg.CodeChange != nil:
		for i := range a.files {
			if a.files[i].Id == msg.CodeChange.FileId {
				a.files[i].Content = msg.CodeChange.Code
				a.codeChanges++
				break
			}
		}
	case msg.FilesSynced != nil:
		a.files = msg.FilesSynced.Files
		if a.findFile(a.activeFileId) < 0 {
			a.activeFileId = msg.FilesSynced.ActiveFileId
			if a.activeFileId == "" && len(a.files) > 0 {
				a.activeFileId = a.files[0].Id
			}
		}
	case msg.FileCreated != nil:
		a.files = append(a.files, msg.FileCreated.File)
		if a.activeFileId == "" {
			a.activeFileId = msg.FileCreated.File.Id
		}
	case msg.FileDeleted != nil:
		if i := a.findFile(msg.FileDeleted.FileId); i >= 0 {
			a.files = append(a.files[:i], a.files[i+1:]...)
		}
		if a.activeFileId == msg.FileDeleted.FileId {
			a.activeFileId = msg.FileDeleted.ActiveFileId
			if a.activeFileId == "" && len(a.files) > 0 {
				a.activeFileId = a.files[0].Id
			}
		}
	case msg.FileRenamed != nil:
		if i := a.findFile(msg.FileRenamed.FileId); i >= 0 {
			a.files[i].Name = msg.FileRenamed.NewName
		}
	case msg.FileSwitched != nil:
		// another participant's viewing focus, presentation only
	case msg.Response != nil:
		if msg.Response.ResponseCode >= 400 {
			select {
			case a.rejections <- msg.Response:
			default:
				a.log.Println("agent: rejection channel full")
			}
		}
	}
}

// findFile must be called with a.mu held.
func (a *Agent) findFile(fileId string) int {
	for i := range a.files {
		if a.files[i].Id == fileId {
			return i
		}
	}
	return -1
}

// Join registers this agent in a room. The resulting joined broadcast
// initializes the mirror.
func (a *Agent) Join(roomId, username string) error {
	a.mu.Lock()
	a.roomId = roomId
	a.username = username
	a.mu.Unlock()

	return a.send(&server.ClientMessage{
		Join: &server.Join{RoomId: roomId, Username: username},
	})
}

// SendCodeChange pushes a full-content replacement for a file. The local
// mirror is updated immediately; the server does not echo the change back.
func (a *Agent) SendCodeChange(fileId, code string) error {
	a.mu.Lock()
	if i := a.findFile(fileId); i >= 0 {
		a.files[i].Content = code
	}
	roomId := a.roomId
	a.mu.Unlock()

	return a.send(&server.ClientMessage{
		CodeChange: &server.CodeChange{RoomId: roomId, FileId: fileId, Code: code},
	})
}

func (a *Agent) CreateFile(name, language string) error {
	return a.send(&server.ClientMessage{
		CreateFile: &server.CreateFile{RoomId: a.room(), FileName: name, Language: language},
	})
}

func (a *Agent) DeleteFile(fileId string) error {
	return a.send(&server.ClientMessage{
		DeleteFile: &server.DeleteFile{RoomId: a.room(), FileId: fileId},
	})
}

func (a *Agent) RenameFile(fileId, newName string) error {
	return a.send(&server.ClientMessage{
		RenameFile: &server.RenameFile{RoomId: a.room(), FileId: fileId, NewName: newName},
	})
}

func (a *Agent) SwitchFile(fileId string) error {
	a.mu.Lock()
	a.activeFileId = fileId
	a.mu.Unlock()

	return a.send(&server.ClientMessage{
		SwitchFile: &server.SwitchFile{RoomId: a.room(), FileId: fileId},
	})
}

// SyncCode requests the authoritative content of one file.
func (a *Agent) SyncCode(fileId string) error {
	return a.send(&server.ClientMessage{
		SyncCode: &server.SyncCode{RoomId: a.room(), FileId: fileId, SocketId: a.SocketId()},
	})
}

// SyncFiles requests a full snapshot of the room's file set.
func (a *Agent) SyncFiles() error {
	return a.send(&server.ClientMessage{
		SyncFiles: &server.SyncFiles{RoomId: a.room()},
	})
}

func (a *Agent) send(msg *server.ClientMessage) error {
	a.mu.Lock()
	a.nextId++
	msg.Id = a.nextId
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(msg)
}

func (a *Agent) room() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomId
}

func (a *Agent) SocketId() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.socketId
}

func (a *Agent) ActiveFileId() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeFileId
}

// Roster returns a copy of the mirrored participant list.
func (a *Agent) Roster() []types.ClientInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	roster := make([]types.ClientInfo, len(a.roster))
	copy(roster, a.roster)
	return roster
}

// Files returns a copy of the mirrored file set.
func (a *Agent) Files() []types.File {
	a.mu.Lock()
	defer a.mu.Unlock()

	files := make([]types.File, len(a.files))
	copy(files, a.files)
	return files
}

// CodeChangesApplied reports how many inbound code-change broadcasts the
// mirror has absorbed.
func (a *Agent) CodeChangesApplied() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.codeChanges
}
