package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketFileData = []byte(blobCollection)

// BoltBackend is the embedded transactional backend. Ordered collections
// are stored as position-keyed buckets with a sibling index bucket.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string) (*BoltBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, unavailable("bolt", errors.New("path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, unavailable("bolt", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, unavailable("bolt", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		names := [][]byte{bucketFileData}
		for _, c := range listCollections {
			names = append(names, []byte(c), indexBucket(c))
		}
		for _, c := range keyedCollections {
			names = append(names, []byte(c))
		}
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, unavailable("bolt", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Kind() string { return "bolt" }

func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltBackend) GetAll(ctx context.Context, coll Collection) ([]Record, error) {
	if err := checkList(coll); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = readRecords(tx, coll)
		return err
	})
	if err != nil {
		return nil, opFailed("get all", coll, err)
	}
	return out, nil
}

func (b *BoltBackend) GetAllByIndex(ctx context.Context, coll Collection, field, value string) ([]Record, error) {
	if err := checkList(coll); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Record, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(coll))
		idx := tx.Bucket(indexBucket(coll))
		if data == nil || idx == nil {
			return nil
		}
		prefix := indexPrefix(field, value)
		c := idx.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			raw := data.Get(k[len(prefix):])
			if raw == nil {
				continue
			}
			var r Record
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, opFailed("get by index", coll, err)
	}
	return out, nil
}

func (b *BoltBackend) ReplaceAll(ctx context.Context, coll Collection, records []Record) error {
	return b.Update(ctx, coll, func([]Record) ([]Record, error) {
		return records, nil
	})
}

func (b *BoltBackend) Update(ctx context.Context, coll Collection, fn func([]Record) ([]Record, error)) error {
	if err := checkList(coll); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := b.db.Update(func(tx *bolt.Tx) error {
		current, err := readRecords(tx, coll)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if err := checkUniqueIDs(coll, next); err != nil {
			fnErr = err
			return err
		}
		return writeRecords(tx, coll, next)
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return opFailed("update", coll, err)
	}
	return nil
}

func (b *BoltBackend) GetSingleton(ctx context.Context, coll Collection, key string) (json.RawMessage, bool, error) {
	if err := checkKeyed(coll); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out json.RawMessage
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(coll)).Get([]byte(key)); v != nil {
			out = cloneBytes(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, opFailed("get", coll, err)
	}
	return out, out != nil, nil
}

func (b *BoltBackend) UpsertSingleton(ctx context.Context, coll Collection, key string, data json.RawMessage) error {
	if err := checkKeyed(coll); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(coll)).Put([]byte(key), cloneBytes(data))
	})
	if err != nil {
		return opFailed("upsert", coll, err)
	}
	return nil
}

func (b *BoltBackend) DeleteSingleton(ctx context.Context, coll Collection, key string) error {
	if err := checkKeyed(coll); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(coll)).Delete([]byte(key))
	})
	if err != nil {
		return opFailed("delete", coll, err)
	}
	return nil
}

func (b *BoltBackend) PutBlob(ctx context.Context, bookID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFileData).Put([]byte(bookID), cloneBytes(data))
	})
	if err != nil {
		return opFailed("put", blobCollection, err)
	}
	return nil
}

func (b *BoltBackend) GetBlob(ctx context.Context, bookID string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out []byte
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketFileData).Get([]byte(bookID)); v != nil {
			out = cloneBytes(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, opFailed("get", blobCollection, err)
	}
	return out, found, nil
}

func (b *BoltBackend) DeleteBlob(ctx context.Context, bookID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFileData).Delete([]byte(bookID))
	})
	if err != nil {
		return opFailed("delete", blobCollection, err)
	}
	return nil
}

func readRecords(tx *bolt.Tx, coll Collection) ([]Record, error) {
	out := make([]Record, 0)
	bucket := tx.Bucket([]byte(coll))
	if bucket == nil {
		return out, nil
	}
	err := bucket.ForEach(func(_, v []byte) error {
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func writeRecords(tx *bolt.Tx, coll Collection, records []Record) error {
	for _, name := range [][]byte{[]byte(coll), indexBucket(coll)} {
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
	}
	data, err := tx.CreateBucket([]byte(coll))
	if err != nil {
		return err
	}
	idx, err := tx.CreateBucket(indexBucket(coll))
	if err != nil {
		return err
	}
	for i, r := range records {
		pos := positionKey(i)
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		if err := data.Put(pos, raw); err != nil {
			return err
		}
		for field, value := range r.Index {
			if err := idx.Put(append(indexPrefix(field, value), pos...), []byte(r.ID)); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexBucket(coll Collection) []byte {
	return []byte(string(coll) + ":idx")
}

func indexPrefix(field, value string) []byte {
	return []byte(field + "\x00" + value + "\x00")
}

func positionKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}
