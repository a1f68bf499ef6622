package store

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codepad-io/go-codepad/internal/types"
)

const (
	defaultFileName    = "index.js"
	defaultFileContent = "// Start coding here..."
	defaultLanguage    = "javascript"
)

// room is the authoritative state for a single room: an ordered file set and
// the advisory active-file hint. Rooms are created on first join and retained
// for the life of the process, even when empty.
type room struct {
	id           string
	mu           sync.Mutex
	files        []types.File
	activeFileId string
}

// RoomStore is the registry of all rooms and their file sets. All state is
// in-memory and process-lifetime. Methods are safe for concurrent use; the
// room table is guarded by an RWMutex and each room by its own mutex.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*room),
		now:   time.Now,
	}
}

// EnsureRoom returns a snapshot of the room, creating it with a single
// seeded default file if it does not exist. Idempotent: concurrent first
// joins to the same id produce exactly one seeded file. The boolean reports
// whether this call created the room.
func (s *RoomStore) EnsureRoom(roomId string) (types.RoomSnapshot, bool) {
	s.mu.Lock()
	r, ok := s.rooms[roomId]
	created := !ok
	if !ok {
		now := s.now()
		r = &room{
			id: roomId,
			files: []types.File{{
				Id:        uuid.NewString(),
				Name:      defaultFileName,
				Content:   defaultFileContent,
				Language:  defaultLanguage,
				CreatedAt: now,
				UpdatedAt: now,
			}},
		}
		r.activeFileId = r.files[0].Id
		s.rooms[roomId] = r
	}
	s.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), created
}

// Snapshot returns a copy of the room's current file set and active-file
// hint, or ErrRoomNotFound if the room was never created.
func (s *RoomStore) Snapshot(roomId string) (types.RoomSnapshot, error) {
	r, err := s.getRoom(roomId)
	if err != nil {
		return types.RoomSnapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

// GetFile returns a copy of a single file.
func (s *RoomStore) GetFile(roomId, fileId string) (types.File, error) {
	r, err := s.getRoom(roomId)
	if err != nil {
		return types.File{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(fileId)
	if i < 0 {
		return types.File{}, ErrFileNotFound
	}
	return r.files[i], nil
}

// CreateFile allocates a fresh id and appends the file to the end of the
// room's ordered file set. Duplicate names are allowed; an empty language
// falls back to the default.
func (s *RoomStore) CreateFile(roomId, name, language string) (types.File, error) {
	if strings.TrimSpace(name) == "" {
		return types.File{}, ErrEmptyName
	}
	if language == "" {
		language = defaultLanguage
	}

	r, err := s.getRoom(roomId)
	if err != nil {
		return types.File{}, err
	}

	now := s.now()
	f := types.File{
		Id:        uuid.NewString(),
		Name:      name,
		Content:   "",
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, f)
	return f, nil
}

// RenameFile sets a new display name on the file and bumps its updatedAt.
func (s *RoomStore) RenameFile(roomId, fileId, newName string) (types.File, error) {
	if strings.TrimSpace(newName) == "" {
		return types.File{}, ErrEmptyName
	}

	r, err := s.getRoom(roomId)
	if err != nil {
		return types.File{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(fileId)
	if i < 0 {
		return types.File{}, ErrFileNotFound
	}

	r.files[i].Name = newName
	r.files[i].UpdatedAt = s.now()
	return r.files[i], nil
}

// DeleteFile removes the file from the room. Deleting the last remaining
// file is rejected with ErrLastFile. If the deleted file was the room's
// active-file hint, the hint moves to the first remaining file; the new
// hint is returned alongside the deleted file.
func (s *RoomStore) DeleteFile(roomId, fileId string) (types.File, string, error) {
	r, err := s.getRoom(roomId)
	if err != nil {
		return types.File{}, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(fileId)
	if i < 0 {
		return types.File{}, "", ErrFileNotFound
	}
	if len(r.files) == 1 {
		return types.File{}, "", ErrLastFile
	}

	deleted := r.files[i]
	r.files = append(r.files[:i], r.files[i+1:]...)
	if r.activeFileId == fileId {
		r.activeFileId = r.files[0].Id
	}
	return deleted, r.activeFileId, nil
}

// UpdateContent replaces the file's full content. Last write wins: there is
// no merge or conflict detection, the most recently applied content becomes
// authoritative.
func (s *RoomStore) UpdateContent(roomId, fileId, content string) (types.File, error) {
	r, err := s.getRoom(roomId)
	if err != nil {
		return types.File{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(fileId)
	if i < 0 {
		return types.File{}, ErrFileNotFound
	}

	r.files[i].Content = content
	r.files[i].UpdatedAt = s.now()
	return r.files[i], nil
}

// SwitchActive updates the room's advisory active-file hint. The hint is
// not authoritative content state; it only seeds the fallback target after
// a delete and the snapshot sent to resynchronizing clients.
func (s *RoomStore) SwitchActive(roomId, fileId string) (types.File, error) {
	r, err := s.getRoom(roomId)
	if err != nil {
		return types.File{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(fileId)
	if i < 0 {
		return types.File{}, ErrFileNotFound
	}

	r.activeFileId = fileId
	return r.files[i], nil
}

// NumRooms returns the number of rooms ever created in this process.
func (s *RoomStore) NumRooms() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *RoomStore) getRoom(roomId string) (*room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// snapshot copies the file slice so callers never alias store-owned memory.
// Caller must hold r.mu.
func (r *room) snapshot() types.RoomSnapshot {
	files := make([]types.File, len(r.files))
	copy(files, r.files)
	return types.RoomSnapshot{
		RoomId:       r.id,
		Files:        files,
		ActiveFileId: r.activeFileId,
	}
}

// indexOf returns the position of the file in the ordered file set, or -1.
// Caller must hold r.mu.
func (r *room) indexOf(fileId string) int {
	for i := range r.files {
		if r.files[i].Id == fileId {
			return i
		}
	}
	return -1
}
