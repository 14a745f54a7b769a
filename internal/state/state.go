package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// State is a Store kept in memory and persisted as one JSON file. The file
// is rewritten whenever a cursor is stored, which closes a folder, and on
// Close if anything changed since. An empty path keeps it in memory only.
type State struct {
	mu    sync.Mutex
	path  string
	dirty bool

	// Cursors and Messages are keyed by folderKey(mailbox, folder).
	Cursors  map[string]Cursor             `json:"mail_sync_state"`
	Messages map[string]map[uint32]Message `json:"mail_messages"`
}

func folderKey(mailbox, folder string) string {
	return mailbox + "|" + folder
}

// Load reads the state file at path. A missing file yields an empty state.
func Load(path string) (*State, error) {
	st := &State{path: path, Cursors: make(map[string]Cursor), Messages: make(map[string]map[uint32]Message)}
	if path == "" {
		return st, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, err
	}
	if st.Cursors == nil {
		st.Cursors = make(map[string]Cursor)
	}
	if st.Messages == nil {
		st.Messages = make(map[string]map[uint32]Message)
	}
	return st, nil
}

// Save writes the state to path through a temporary file.
func (s *State) Save(path string) error {
	if path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(path)
}

func (s *State) saveLocked(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if path == s.path {
		s.dirty = false
	}
	return nil
}

// Close saves to the path the state was loaded from, unless nothing
// changed since the last save.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.path == "" {
		return nil
	}
	return s.saveLocked(s.path)
}

func (s *State) GetCursor(_ context.Context, mailbox, folder string) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Cursors[folderKey(mailbox, folder)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *State) PutCursor(_ context.Context, c Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cursors[folderKey(c.Mailbox, c.Folder)] = c
	s.dirty = true
	if s.path == "" {
		return nil
	}
	return s.saveLocked(s.path)
}

func (s *State) ListCursors(_ context.Context, mailbox string) ([]Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Cursor
	for _, c := range s.Cursors {
		if c.Mailbox == mailbox {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Folder < out[j].Folder })
	return out, nil
}

func (s *State) UpsertMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := folderKey(m.Mailbox, m.Folder)
	if s.Messages[k] == nil {
		s.Messages[k] = make(map[uint32]Message)
	}
	s.Messages[k][m.UID] = m
	s.dirty = true
	return nil
}

func (s *State) DeleteMessages(_ context.Context, mailbox, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Messages, folderKey(mailbox, folder))
	s.dirty = true
	return nil
}

func (s *State) ListMessages(_ context.Context, mailbox, folder string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.Messages[folderKey(mailbox, folder)]
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}
