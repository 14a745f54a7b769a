package state

import (
	"context"
	"fmt"
	"time"
)

// Cursor marks how far a folder has been mirrored. It is only meaningful
// together with the UIDVALIDITY it was captured under.
type Cursor struct {
	Mailbox      string    `json:"user_email"`
	Folder       string    `json:"folder"`
	UIDValidity  uint32    `json:"uidvalidity"`
	UIDNext      uint32    `json:"uidnext"`
	LastSyncedAt time.Time `json:"last_sync_at"`
}

// Message is the cached envelope of one message, keyed by
// (Mailbox, Folder, UID).
type Message struct {
	Mailbox        string    `json:"user_email"`
	Folder         string    `json:"folder"`
	UID            uint32    `json:"uid"`
	Flags          []string  `json:"flags"`
	Subject        string    `json:"subject"`
	From           string    `json:"from_address"`
	To             string    `json:"to_address"`
	Date           time.Time `json:"date"`
	Snippet        string    `json:"snippet"`
	HasAttachments bool      `json:"has_attachments"`
	SyncedAt       time.Time `json:"synced_at"`
}

// Store is the cache the sync engine mirrors into.
type Store interface {
	// GetCursor returns nil, nil when the folder was never synced.
	GetCursor(ctx context.Context, mailbox, folder string) (*Cursor, error)
	PutCursor(ctx context.Context, c Cursor) error
	ListCursors(ctx context.Context, mailbox string) ([]Cursor, error)

	// UpsertMessage inserts m or replaces the row with the same key.
	UpsertMessage(ctx context.Context, m Message) error
	// DeleteMessages drops every cached message of one folder.
	DeleteMessages(ctx context.Context, mailbox, folder string) error
	ListMessages(ctx context.Context, mailbox, folder string) ([]Message, error)

	Close() error
}

// Open returns the store for driver ("bolt" or "json") at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "bolt", "":
		return OpenBolt(path)
	case "json":
		return Load(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// CacheWriteError wraps a failed write against the store.
type CacheWriteError struct {
	Op      string
	Mailbox string
	Folder  string
	UID     uint32
	Err     error
}

func (e *CacheWriteError) Error() string {
	if e.UID != 0 {
		return fmt.Sprintf("cache %s %s/%d: %v", e.Op, e.Folder, e.UID, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Folder, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }
