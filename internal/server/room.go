package server

import (
	"log"
	"sync"
	"time"

	"github.com/codepad-io/go-codepad/internal/types"
)

// idleRoomTimeout is how long a room actor with no clients stays loaded.
// Only the actor unloads; the room's file state is retained in the store
// for the life of the process.
const idleRoomTimeout = time.Minute * 5

type leaveReq struct {
	client   *Client
	username string
}

// Room is the per-room actor: it owns event processing for one room and
// serializes every mutation to that room's state. Fan-out happens after the
// mutation is applied and never blocks it.
type Room struct {
	id            string
	cs            *CollabServer
	joinChan      chan *ClientMessage
	leaveChan     chan leaveReq
	clientMsgChan chan *ClientMessage
	// clients is kept in join order; the roster is derived from it on
	// demand, never cached
	clients    []*Client
	clientLock sync.RWMutex
	log        *log.Logger
	killTimer  *time.Timer
	exit       chan struct{}
	done       chan struct{}
}

func newRoom(id string, cs *CollabServer) *Room {
	return &Room{
		id:            id,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan leaveReq, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		log:           cs.log,
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			r.handleClientMsg(msg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	r.cs.tracker.register(c.id, join.Join.Username)
	r.addClient(c)

	snap, err := r.cs.store.Snapshot(r.id)
	if err != nil {
		r.log.Printf("snapshot %q: %v", r.id, err)
		c.queueMessage(ErrInternalError(join.Id))
		return
	}

	// every member, the joiner included, gets the fresh roster and the
	// full file snapshot
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Id: join.Id},
		Joined: &Joined{
			Clients:  r.roster(),
			Username: join.Join.Username,
			SocketId: c.id,
			Files:    snap.Files,
		},
	})
}

func (r *Room) handleLeave(leaveMsg leaveReq) {
	c := leaveMsg.client
	r.removeClient(c)
	c.delRoom(r.id)

	r.broadcast(&ServerMessage{
		Disconnected: &Disconnected{
			SocketId: c.id,
			Username: leaveMsg.username,
		},
		SkipClient: c,
	})
}

func (r *Room) handleClientMsg(msg *ClientMessage) {
	r.cs.stats.Incr("EventsProcessed")

	switch {
	case msg.CodeChange != nil:
		r.handleCodeChange(msg)
	case msg.SyncCode != nil:
		r.handleSyncCode(msg)
	case msg.SyncFiles != nil:
		r.handleSyncFiles(msg)
	case msg.CreateFile != nil:
		r.handleCreateFile(msg)
	case msg.DeleteFile != nil:
		r.handleDeleteFile(msg)
	case msg.RenameFile != nil:
		r.handleRenameFile(msg)
	case msg.SwitchFile != nil:
		r.handleSwitchFile(msg)
	}
}

// handleCodeChange applies a full-content replacement and rebroadcasts it
// to every other member. The sender already holds the content it sent, so
// echoing it back would only cause an edit loop.
func (r *Room) handleCodeChange(msg *ClientMessage) {
	_, err := r.cs.store.UpdateContent(r.id, msg.CodeChange.FileId, msg.CodeChange.Code)
	if err != nil {
		r.log.Printf("dropping code-change for room %q: %v", r.id, err)
		return
	}

	r.broadcast(&ServerMessage{
		CodeChange: &CodeChange{
			FileId: msg.CodeChange.FileId,
			Code:   msg.CodeChange.Code,
		},
		SkipClient: msg.client,
	})
}

// handleSyncCode unicasts the authoritative content of one file back to the
// requester, for when its local buffer may be stale.
func (r *Room) handleSyncCode(msg *ClientMessage) {
	f, err := r.cs.store.GetFile(r.id, msg.SyncCode.FileId)
	if err != nil {
		r.log.Printf("dropping sync-code for room %q: %v", r.id, err)
		return
	}

	msg.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		CodeChange: &CodeChange{
			FileId: f.Id,
			Code:   f.Content,
		},
	})
}

func (r *Room) handleSyncFiles(msg *ClientMessage) {
	snap, err := r.cs.store.Snapshot(r.id)
	if err != nil {
		r.log.Printf("dropping sync-files for room %q: %v", r.id, err)
		return
	}

	msg.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		FilesSynced: &FilesSynced{
			Files:        snap.Files,
			ActiveFileId: snap.ActiveFileId,
		},
	})
}

func (r *Room) handleCreateFile(msg *ClientMessage) {
	f, err := r.cs.store.CreateFile(r.id, msg.CreateFile.FileName, msg.CreateFile.Language)
	if err != nil {
		msg.client.queueMessage(rejectionFor(msg.Id, err))
		return
	}

	username, _ := r.cs.tracker.lookup(msg.client.id)
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id},
		FileCreated: &FileCreated{
			File:     f,
			Username: username,
		},
	})
}

func (r *Room) handleDeleteFile(msg *ClientMessage) {
	_, activeFileId, err := r.cs.store.DeleteFile(r.id, msg.DeleteFile.FileId)
	if err != nil {
		msg.client.queueMessage(rejectionFor(msg.Id, err))
		return
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id},
		FileDeleted: &FileDeleted{
			FileId:       msg.DeleteFile.FileId,
			ActiveFileId: activeFileId,
		},
	})
}

func (r *Room) handleRenameFile(msg *ClientMessage) {
	f, err := r.cs.store.RenameFile(r.id, msg.RenameFile.FileId, msg.RenameFile.NewName)
	if err != nil {
		msg.client.queueMessage(rejectionFor(msg.Id, err))
		return
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id},
		FileRenamed: &FileRenamed{
			FileId:  f.Id,
			NewName: f.Name,
		},
	})
}

// handleSwitchFile records the advisory focus change and tells the room.
// The hint is presentation state only; no content travels with it.
func (r *Room) handleSwitchFile(msg *ClientMessage) {
	f, err := r.cs.store.SwitchActive(r.id, msg.SwitchFile.FileId)
	if err != nil {
		msg.client.queueMessage(rejectionFor(msg.Id, err))
		return
	}

	username, _ := r.cs.tracker.lookup(msg.client.id)
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id},
		FileSwitched: &FileSwitched{
			FileId:   f.Id,
			Username: username,
		},
	})
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q idle, unloading", r.id)
	select {
	case r.cs.unloadRoomChan <- r.id:
	default:
		// server loop busy, try again next interval
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.id)

	r.clientLock.Lock()
	for _, c := range r.clients {
		c.delRoom(r.id)
	}
	r.clients = nil
	r.clientLock.Unlock()

	close(r.done)
}

// roster derives the current participant list: every connection joined to
// this room that still has a tracker entry, in join order.
func (r *Room) roster() []types.ClientInfo {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	roster := make([]types.ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		username, ok := r.cs.tracker.lookup(c.id)
		if !ok {
			continue
		}
		roster = append(roster, types.ClientInfo{SocketId: c.id, Username: username})
	}
	return roster
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	for _, existing := range r.clients {
		if existing == c {
			return
		}
	}
	r.clients = append(r.clients, c)
	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	for i, existing := range r.clients {
		if existing == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			break
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) clientCount() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()
	return len(r.clients)
}

func (r *Room) broadcast(msg *ServerMessage) {
	msg.Timestamp = Now()

	r.clientLock.RLock()
	defer r.clientLock.RUnlock()
	for _, client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		if !client.queueMessage(msg) {
			r.log.Printf("dropped broadcast to %q in room %q", client.id, r.id)
		}
	}
}
