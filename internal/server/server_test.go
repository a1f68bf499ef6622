package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/codepad-io/go-codepad/internal/stats"
	"github.com/codepad-io/go-codepad/internal/store"
	"github.com/codepad-io/go-codepad/internal/testutil"
)

func newTestCollabServer(t *testing.T) *CollabServer {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs, err := NewCollabServer(testutil.TestLogger(t), store.NewRoomStore(), su)
	require.NoError(t, err)
	return cs
}

func receiveMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("expected no message, got %+v", msg)
	default:
	}
}

func TestNewCollabServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	for _, metric := range []string{"NumConnections", "NumActiveRooms", "NumRooms", "EventsProcessed"} {
		su.On("RegisterMetric", metric).Once()
	}

	cs, err := NewCollabServer(testutil.TestLogger(t), store.NewRoomStore(), su)
	require.NoError(t, err)

	assert.NotNil(t, cs.store)
	assert.NotNil(t, cs.tracker)
	assert.NotNil(t, cs.clients)
	assert.NotNil(t, cs.joinChan)
	assert.NotNil(t, cs.RegisterChan)
	assert.NotNil(t, cs.deRegisterChan)
	assert.NotNil(t, cs.unloadRoomChan)
	assert.NotNil(t, cs.rooms)

	su.AssertExpectations(t)
}

func Test_handleJoinRequest(t *testing.T) {
	cs := newTestCollabServer(t)

	client := NewClient("sock-alice", nil, cs, testutil.TestLogger(t))
	cs.handleJoinRequest(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: "r1", Username: "alice"},
		client:      client,
	})

	require.Contains(t, cs.rooms, "r1", "expected room actor to be materialized")
	room := cs.rooms["r1"]
	t.Cleanup(func() {
		close(room.exit)
		<-room.done
	})

	assert.Equal(t, 1, cs.store.NumRooms(), "expected room to be ensured in the store")

	msg := receiveMessage(t, client)
	require.NotNil(t, msg.Joined)
	assert.Equal(t, "alice", msg.Joined.Username)
	assert.Equal(t, "sock-alice", msg.Joined.SocketId)
	require.Len(t, msg.Joined.Files, 1, "expected the seed file")
	assert.Equal(t, "index.js", msg.Joined.Files[0].Name)

	// a second join reuses the existing actor
	other := NewClient("sock-bob", nil, cs, testutil.TestLogger(t))
	cs.handleJoinRequest(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: "r1", Username: "bob"},
		client:      other,
	})

	assert.Len(t, cs.rooms, 1)
	assert.Equal(t, 1, cs.store.NumRooms())

	msg = receiveMessage(t, other)
	require.NotNil(t, msg.Joined)
	assert.Equal(t, "bob", msg.Joined.Username)
}

func TestRunTracksConnections(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)
	su.On("Incr", "NumConnections").Once()
	su.On("Decr", "NumConnections").Once()

	cs, err := NewCollabServer(testutil.TestLogger(t), store.NewRoomStore(), su)
	require.NoError(t, err)

	go cs.Run()

	client := NewClient("sock-1", nil, cs, testutil.TestLogger(t))
	cs.RegisterChan <- client
	cs.deRegisterChan <- client

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cs.Shutdown(ctx))

	assert.NotContains(t, cs.clients, client)
	su.AssertExpectations(t)
}

func Test_unloadRoom(t *testing.T) {
	t.Run("retires an idle room", func(t *testing.T) {
		cs := newTestCollabServer(t)
		cs.store.EnsureRoom("r1")

		room := newRoom("r1", cs)
		cs.rooms["r1"] = room
		go room.start()

		cs.unloadRoom("r1")

		assert.NotContains(t, cs.rooms, "r1")
		select {
		case <-room.done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for room to exit")
		}

		// the store keeps the room state after the actor is gone
		assert.Equal(t, 1, cs.store.NumRooms())
	})

	t.Run("keeps a room a join raced into", func(t *testing.T) {
		cs := newTestCollabServer(t)
		cs.store.EnsureRoom("r1")

		room := newRoom("r1", cs)
		room.killTimer = time.NewTimer(idleRoomTimeout)
		room.killTimer.Stop()
		cs.rooms["r1"] = room

		client := NewClient("sock-1", nil, cs, testutil.TestLogger(t))
		room.addClient(client)

		cs.unloadRoom("r1")

		assert.Contains(t, cs.rooms, "r1", "expected occupied room to survive")
	})

	t.Run("ignores unknown rooms", func(t *testing.T) {
		cs := newTestCollabServer(t)
		cs.unloadRoom("nope")
	})
}

func TestShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		cs := newTestCollabServer(t)
		go cs.Run()

		client := NewClient("sock-1", nil, cs, testutil.TestLogger(t))
		cs.RegisterChan <- client

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx))

		select {
		case <-client.stop:
		default:
			t.Fatal("expected client to be stopped")
		}

		select {
		case <-cs.done:
		default:
			t.Fatal("expected server loop to have exited")
		}
	})

	t.Run("times out when the loop is not running", func(t *testing.T) {
		cs := newTestCollabServer(t)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, cs.Shutdown(ctx), context.DeadlineExceeded)
	})
}
