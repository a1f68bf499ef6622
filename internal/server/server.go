package server

import (
	"context"
	"log"
	"sync"

	"github.com/codepad-io/go-codepad/internal/stats"
	"github.com/codepad-io/go-codepad/internal/store"
)

// CollabServer is the session gateway: it accepts connections, materializes
// room actors lazily on first join, and routes inbound events to them. Room
// state itself lives in the store and outlives the actors.
type CollabServer struct {
	log            *log.Logger
	store          *store.RoomStore
	stats          stats.StatsProvider
	tracker        *membershipTracker
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewCollabServer(logger *log.Logger, st *store.RoomStore, sp stats.StatsProvider) (*CollabServer, error) {
	cs := &CollabServer{
		log:            logger,
		store:          st,
		stats:          sp,
		tracker:        newMembershipTracker(),
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan string, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, metric := range []string{"NumConnections", "NumActiveRooms", "NumRooms", "EventsProcessed"} {
		cs.stats.RegisterMetric(metric)
	}

	return cs, nil
}

func (cs *CollabServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoinRequest(joinMsg)
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection %q", client.id)
			cs.addClient(client)
			cs.stats.Incr("NumConnections")
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection %q", client.id)
			cs.removeClient(client)
			cs.tracker.unregister(client.id)
			cs.stats.Decr("NumConnections")
		case id := <-cs.unloadRoomChan:
			cs.unloadRoom(id)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				close(r.exit)
				<-r.done
			}

			close(cs.done)
			return
		}
	}
}

// handleJoinRequest materializes the room actor if needed and forwards the
// join. The store room is ensured before the actor ever runs, so the actor
// can assume its room exists.
func (cs *CollabServer) handleJoinRequest(joinMsg *ClientMessage) {
	roomId := joinMsg.Join.RoomId
	room, ok := cs.rooms[roomId]
	if !ok {
		_, created := cs.store.EnsureRoom(roomId)
		if created {
			cs.log.Printf("created room %q", roomId)
			cs.stats.Incr("NumRooms")
		}

		room = newRoom(roomId, cs)
		cs.rooms[roomId] = room
		cs.stats.Incr("NumActiveRooms")
		go room.start()
	}

	select {
	case room.joinChan <- joinMsg:
	default:
		cs.log.Printf("join channel full on room %q", room.id)
		joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
	}
}

func (cs *CollabServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *CollabServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

// unloadRoom retires an idle room actor. The room's files stay in the
// store; a later join re-materializes the actor over the same state.
func (cs *CollabServer) unloadRoom(id string) {
	r, ok := cs.rooms[id]
	if !ok {
		return
	}

	if r.clientCount() > 0 {
		// a join raced the idle timeout, keep the actor
		return
	}

	cs.log.Printf("unloading idle room %q", id)
	delete(cs.rooms, id)
	close(r.exit)
	<-r.done
	cs.stats.Decr("NumActiveRooms")
}

func (cs *CollabServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
