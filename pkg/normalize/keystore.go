package normalize

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/oarkflow/json"
)

// FileKeyStore is a KeyAllocator whose assignments survive across
// runs. Keys are loaded from a JSON file on creation and written back
// by Save; the file is guarded with an advisory lock so two pipeline
// runs cannot clobber each other's assignments.
type FileKeyStore struct {
	path  string
	lock  *flock.Flock
	mu    sync.Mutex
	state keyStoreState
	dirty bool
}

type keyStoreState struct {
	Keys map[string]map[string]int `json:"keys"`
	Next map[string]int            `json:"next"`
}

func NewFileKeyStore(path string) (*FileKeyStore, error) {
	s := &FileKeyStore{
		path: path,
		lock: flock.New(path + ".lock"),
		state: keyStoreState{
			Keys: make(map[string]map[string]int),
			Next: make(map[string]int),
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileKeyStore) load() error {
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return err
	}
	if s.state.Keys == nil {
		s.state.Keys = make(map[string]map[string]int)
	}
	if s.state.Next == nil {
		s.state.Next = make(map[string]int)
	}
	return nil
}

func (s *FileKeyStore) Resolve(dimension, naturalKey string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, ok := s.state.Keys[dimension]
	if !ok {
		dim = make(map[string]int)
		s.state.Keys[dimension] = dim
	}
	if id, ok := dim[naturalKey]; ok {
		return id, false
	}
	s.state.Next[dimension]++
	id := s.state.Next[dimension]
	dim[naturalKey] = id
	s.dirty = true
	return id, true
}

// Save writes the assignments back to disk. The write goes through a
// temp file and rename so a crash never leaves a truncated store.
func (s *FileKeyStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer s.lock.Unlock()

	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}
