package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketCursors  = "mail_sync_state"
	bucketMessages = "mail_messages"
)

// BoltStore keeps cursors and messages in a bbolt file. Message keys share
// their folder's prefix so a folder can be dropped with one range scan.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketCursors, bucketMessages} {
			if _, e := tx.CreateBucketIfNotExists([]byte(name)); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error { return b.db.Close() }

func cursorKey(mailbox, folder string) []byte {
	return []byte(mailbox + "\x00" + folder)
}

func folderPrefix(mailbox, folder string) []byte {
	return []byte(mailbox + "\x00" + folder + "\x00")
}

func messageKey(mailbox, folder string, uid uint32) []byte {
	return append(folderPrefix(mailbox, folder), []byte(fmt.Sprintf("%08x", uid))...)
}

func (b *BoltStore) GetCursor(_ context.Context, mailbox, folder string) (*Cursor, error) {
	var c *Cursor
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketCursors)).Get(cursorKey(mailbox, folder))
		if v == nil {
			return nil
		}
		c = new(Cursor)
		return json.Unmarshal(v, c)
	})
	return c, err
}

func (b *BoltStore) PutCursor(_ context.Context, c Cursor) error {
	v, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketCursors)).Put(cursorKey(c.Mailbox, c.Folder), v)
	})
}

func (b *BoltStore) ListCursors(_ context.Context, mailbox string) ([]Cursor, error) {
	var out []Cursor
	prefix := []byte(mailbox + "\x00")
	err := b.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket([]byte(bucketCursors)).Cursor()
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			var c Cursor
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode cursor %q: %w", k, err)
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

func (b *BoltStore) UpsertMessage(_ context.Context, m Message) error {
	v, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMessages)).Put(messageKey(m.Mailbox, m.Folder, m.UID), v)
	})
}

func (b *BoltStore) DeleteMessages(_ context.Context, mailbox, folder string) error {
	prefix := folderPrefix(mailbox, folder)
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketMessages))
		var keys [][]byte
		cur := bkt.Cursor()
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltStore) ListMessages(_ context.Context, mailbox, folder string) ([]Message, error) {
	out := []Message{}
	prefix := folderPrefix(mailbox, folder)
	err := b.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket([]byte(bucketMessages)).Cursor()
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message %q: %w", k, err)
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}
