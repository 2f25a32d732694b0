package presence

import (
	"encoding/binary"
	"time"

	"go.etcd.io/bbolt"
)

var lastSeenBucket = []byte("last_seen")

// LastSeen is a durable identity -> last-seen timestamp store, written when
// the last handle of an identity disconnects. Last-writer-wins is fine here.
type LastSeen struct {
	db *bbolt.DB
}

func OpenLastSeen(path string) (*LastSeen, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(lastSeenBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LastSeen{db: db}, nil
}

func (l *LastSeen) Touch(identity string, at time.Time) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at.Unix()))
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(lastSeenBucket).Put([]byte(identity), buf[:])
	})
}

// Get returns the recorded last-seen time, or ok=false if the identity has
// never disconnected.
func (l *LastSeen) Get(identity string) (t time.Time, ok bool, err error) {
	err = l.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(lastSeenBucket).Get([]byte(identity))
		if v == nil {
			return nil
		}
		t = time.Unix(int64(binary.BigEndian.Uint64(v)), 0)
		ok = true
		return nil
	})
	return t, ok, err
}

func (l *LastSeen) Close() error {
	return l.db.Close()
}
