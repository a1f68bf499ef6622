package server

import (
	"sync"
)

// membershipTracker maps ephemeral connection ids to display names. It is
// the only record of who a connection is; rosters are always derived from
// it on demand, never cached.
type membershipTracker struct {
	mu    sync.RWMutex
	names map[string]string
}

func newMembershipTracker() *membershipTracker {
	return &membershipTracker{
		names: make(map[string]string),
	}
}

// register stores the display name for a connection. Idempotent overwrite;
// display names are not validated for uniqueness or content.
func (mt *membershipTracker) register(socketId, username string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.names[socketId] = username
}

// unregister removes the mapping. Safe to call when already absent.
func (mt *membershipTracker) unregister(socketId string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	delete(mt.names, socketId)
}

func (mt *membershipTracker) lookup(socketId string) (string, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	name, ok := mt.names[socketId]
	return name, ok
}
