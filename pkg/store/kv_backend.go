package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "studyreader"

// kvEngine is a flat string-keyed JSON value store.
type kvEngine interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	// update replaces key with fn(old) atomically; a nil result deletes the key.
	update(ctx context.Context, key string, fn func(old []byte, ok bool) ([]byte, error)) error
	close() error
}

// KVBackend is the fallback backend. Each ordered collection is one JSON
// array under "<namespace>:<collection>"; progress is one JSON object
// keyed by book id; meta entries are flat keys. Blobs are not supported.
type KVBackend struct {
	kind      string
	namespace string
	engine    kvEngine
}

// NewMemoryKV returns an in-process fallback backend.
func NewMemoryKV(namespace string) *KVBackend {
	return newKV("memory", namespace, &memoryEngine{values: make(map[string][]byte)})
}

// NewRedisKV connects to redis and returns a fallback backend on top of it.
func NewRedisKV(ctx context.Context, addr, password, namespace string) (*KVBackend, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, unavailable("redis", errors.New("redis addr is required"))
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("redis", err)
	}
	return newKV("redis", namespace, &redisEngine{client: client, maxRetries: 16}), nil
}

func newKV(kind, namespace string, engine kvEngine) *KVBackend {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &KVBackend{kind: kind, namespace: namespace, engine: engine}
}

func (k *KVBackend) Kind() string { return k.kind }

func (k *KVBackend) Close() error { return k.engine.close() }

func (k *KVBackend) key(name string) string {
	return k.namespace + ":" + name
}

func (k *KVBackend) GetAll(ctx context.Context, coll Collection) ([]Record, error) {
	if err := checkList(coll); err != nil {
		return nil, err
	}
	raw, ok, err := k.engine.get(ctx, k.key(string(coll)))
	if err != nil {
		return nil, opFailed("get all", coll, err)
	}
	records, err := decodeList(raw, ok)
	if err != nil {
		return nil, opFailed("get all", coll, err)
	}
	return records, nil
}

func (k *KVBackend) GetAllByIndex(ctx context.Context, coll Collection, field, value string) ([]Record, error) {
	records, err := k.GetAll(ctx, coll)
	if err != nil {
		return nil, err
	}
	return filterByIndex(records, field, value), nil
}

func (k *KVBackend) ReplaceAll(ctx context.Context, coll Collection, records []Record) error {
	return k.Update(ctx, coll, func([]Record) ([]Record, error) {
		return records, nil
	})
}

func (k *KVBackend) Update(ctx context.Context, coll Collection, fn func([]Record) ([]Record, error)) error {
	if err := checkList(coll); err != nil {
		return err
	}
	var fnErr error
	err := k.engine.update(ctx, k.key(string(coll)), func(old []byte, ok bool) ([]byte, error) {
		current, err := decodeList(old, ok)
		if err != nil {
			return nil, err
		}
		next, err := fn(current)
		if err == nil {
			err = checkUniqueIDs(coll, next)
		}
		if err != nil {
			fnErr = err
			return nil, err
		}
		if next == nil {
			next = []Record{}
		}
		return json.Marshal(next)
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return opFailed("update", coll, err)
	}
	return nil
}

func (k *KVBackend) GetSingleton(ctx context.Context, coll Collection, key string) (json.RawMessage, bool, error) {
	if err := checkKeyed(coll); err != nil {
		return nil, false, err
	}
	if coll == Meta {
		raw, ok, err := k.engine.get(ctx, k.key(key))
		if err != nil {
			return nil, false, opFailed("get", coll, err)
		}
		return raw, ok, nil
	}
	raw, ok, err := k.engine.get(ctx, k.key(string(coll)))
	if err != nil {
		return nil, false, opFailed("get", coll, err)
	}
	entries, err := decodeKeyed(raw, ok)
	if err != nil {
		return nil, false, opFailed("get", coll, err)
	}
	v, found := entries[key]
	return v, found, nil
}

func (k *KVBackend) UpsertSingleton(ctx context.Context, coll Collection, key string, data json.RawMessage) error {
	return k.writeKeyed(ctx, coll, key, cloneBytes(data), "upsert")
}

func (k *KVBackend) DeleteSingleton(ctx context.Context, coll Collection, key string) error {
	return k.writeKeyed(ctx, coll, key, nil, "delete")
}

func (k *KVBackend) writeKeyed(ctx context.Context, coll Collection, key string, data json.RawMessage, op string) error {
	if err := checkKeyed(coll); err != nil {
		return err
	}
	var err error
	if coll == Meta {
		err = k.engine.update(ctx, k.key(key), func([]byte, bool) ([]byte, error) {
			return data, nil
		})
	} else {
		err = k.engine.update(ctx, k.key(string(coll)), func(old []byte, ok bool) ([]byte, error) {
			entries, err := decodeKeyed(old, ok)
			if err != nil {
				return nil, err
			}
			if data == nil {
				delete(entries, key)
			} else {
				entries[key] = data
			}
			return json.Marshal(entries)
		})
	}
	if err != nil {
		return opFailed(op, coll, err)
	}
	return nil
}

// Blob operations are unsupported on the fallback: writes are dropped and
// reads always miss, so callers treat the file as needing re-upload.

func (k *KVBackend) PutBlob(context.Context, string, []byte) error { return nil }

func (k *KVBackend) GetBlob(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (k *KVBackend) DeleteBlob(context.Context, string) error { return nil }

func decodeList(raw []byte, ok bool) ([]Record, error) {
	out := make([]Record, 0)
	if !ok || len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return out, nil
}

func decodeKeyed(raw []byte, ok bool) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	if !ok || len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode keyed collection: %w", err)
	}
	return out, nil
}

type memoryEngine struct {
	mu     sync.Mutex
	values map[string][]byte
}

func (m *memoryEngine) get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return cloneBytes(v), ok, nil
}

func (m *memoryEngine) update(ctx context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.values[key]
	next, err := fn(cloneBytes(old), ok)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.values, key)
		return nil
	}
	m.values[key] = next
	return nil
}

func (m *memoryEngine) close() error { return nil }

// redisEngine serializes read-modify-write with WATCH/MULTI and retries
// when another writer touched the key first.
type redisEngine struct {
	client     *redis.Client
	maxRetries int
}

func (r *redisEngine) get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *redisEngine) update(ctx context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, key).Bytes()
		ok := true
		if errors.Is(err, redis.Nil) {
			ok = false
		} else if err != nil {
			return err
		}
		next, err := fn(old, ok)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}
	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too many concurrent writers", key)
}

func (r *redisEngine) close() error { return r.client.Close() }
