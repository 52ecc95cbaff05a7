package event

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var cursorsBucket = []byte("subscriber_cursors")

// CursorStore durably records, per subscriber id, the sequence number of the
// last event it acknowledged, so a reconnecting long-poll/websocket client
// resumes instead of re-observing (or silently dropping) transitions across
// a restart.
type CursorStore struct {
	db *bbolt.DB
}

func OpenCursorStore(path string) (*CursorStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cursorsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &CursorStore{db: db}, nil
}

func (c *CursorStore) Close() error {
	return c.db.Close()
}

func (c *CursorStore) SaveCursor(subscriberId string, sequence uint64) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, sequence)
		return tx.Bucket(cursorsBucket).Put([]byte(subscriberId), buf)
	})
}

func (c *CursorStore) LoadCursor(subscriberId string) (uint64, error) {
	var sequence uint64
	err := c.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(cursorsBucket).Get([]byte(subscriberId))
		if val == nil {
			return nil
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupt cursor for subscriber %q", subscriberId)
		}
		sequence = binary.BigEndian.Uint64(val)
		return nil
	})
	return sequence, err
}
