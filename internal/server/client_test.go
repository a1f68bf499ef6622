package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepad-io/go-codepad/internal/testutil"
)

func TestNewClient(t *testing.T) {
	cs := newTestCollabServer(t)
	c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))

	assert.Equal(t, "sock-1", c.Id())
	assert.Equal(t, cs, c.server)
	assert.NotNil(t, c.send)
	assert.NotNil(t, c.rooms)
	assert.NotNil(t, c.stop)
}

func Test_queueMessage(t *testing.T) {
	cs := newTestCollabServer(t)

	c := &Client{
		id:     "sock-1",
		server: cs,
		log:    testutil.TestLogger(t),
		send:   make(chan *ServerMessage, 1),
		rooms:  make(map[string]*Room),
		stop:   make(chan struct{}),
	}

	assert.True(t, c.queueMessage(NoErrOK(1)))
	assert.False(t, c.queueMessage(NoErrOK(2)), "expected send on a full queue to fail")

	msg := <-c.send
	assert.Equal(t, 1, msg.Id, "expected the first message to survive")
}

func Test_dispatch(t *testing.T) {
	t.Run("join goes to the server loop", func(t *testing.T) {
		cs := newTestCollabServer(t)
		c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))

		msg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{RoomId: "r1", Username: "alice"},
			client:      c,
		}
		c.dispatch(msg)

		select {
		case got := <-cs.joinChan:
			assert.Equal(t, msg, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for join request")
		}
	})

	t.Run("room events are forwarded to the room actor", func(t *testing.T) {
		cs := newTestCollabServer(t)
		c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))

		r := newTestRoom(t, cs, "r1")
		c.addRoom(r)

		msg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			CodeChange:  &CodeChange{RoomId: "r1", FileId: "f1", Code: "x = 1"},
			client:      c,
		}
		c.dispatch(msg)

		select {
		case got := <-r.clientMsgChan:
			assert.Equal(t, msg, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for room message")
		}
	})

	t.Run("mutating event for an unjoined room is rejected", func(t *testing.T) {
		cs := newTestCollabServer(t)
		c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))

		c.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 3},
			CreateFile:  &CreateFile{RoomId: "nope", FileName: "util.js"},
			client:      c,
		})

		msg := receiveMessage(t, c)
		require.NotNil(t, msg.Response)
		assert.Equal(t, 3, msg.Id)
		assert.Equal(t, http.StatusNotFound, msg.Response.ResponseCode)
	})

	t.Run("best-effort event for an unjoined room is dropped", func(t *testing.T) {
		cs := newTestCollabServer(t)
		c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))

		c.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 4},
			CodeChange:  &CodeChange{RoomId: "nope", FileId: "f1", Code: "x"},
			client:      c,
		})

		assertNoMessage(t, c)
	})

	t.Run("frame with no recognized event is rejected", func(t *testing.T) {
		cs := newTestCollabServer(t)
		c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))

		c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 5}, client: c})

		msg := receiveMessage(t, c)
		require.NotNil(t, msg.Response)
		assert.Equal(t, http.StatusBadRequest, msg.Response.ResponseCode)
	})

	t.Run("full room channel yields service unavailable", func(t *testing.T) {
		cs := newTestCollabServer(t)
		c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))

		r := &Room{
			id:            "r1",
			cs:            cs,
			clientMsgChan: make(chan *ClientMessage),
			log:           testutil.TestLogger(t),
		}
		c.addRoom(r)

		c.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 6},
			SyncFiles:   &SyncFiles{RoomId: "r1"},
			client:      c,
		})

		msg := receiveMessage(t, c)
		require.NotNil(t, msg.Response)
		assert.Equal(t, http.StatusServiceUnavailable, msg.Response.ResponseCode)
	})
}

func Test_stopClient(t *testing.T) {
	cs := newTestCollabServer(t)
	c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))

	c.stopClient()
	// idempotent
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Fatal("expected stop channel to be closed")
	}
}

func Test_leaveAllRooms(t *testing.T) {
	cs := newTestCollabServer(t)
	c := NewClient("sock-alice", nil, cs, testutil.TestLogger(t))
	cs.tracker.register("sock-alice", "alice")

	r := newTestRoom(t, cs, "r1")
	c.addRoom(r)

	c.leaveAllRooms()

	select {
	case req := <-r.leaveChan:
		assert.Equal(t, c, req.client)
		assert.Equal(t, "alice", req.username, "expected the display name to be snapshotted")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for leave request")
	}
}

func Test_addRoom_getRoom_delRoom(t *testing.T) {
	cs := newTestCollabServer(t)
	c := NewClient("sock-1", nil, cs, testutil.TestLogger(t))
	r := newTestRoom(t, cs, "r1")

	assert.Nil(t, c.getRoom("r1"))

	c.addRoom(r)
	assert.Equal(t, r, c.getRoom("r1"))

	c.delRoom("r1")
	assert.Nil(t, c.getRoom("r1"))
}
