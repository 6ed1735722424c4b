package store

import (
	"context"
	"encoding/json"
)

// Collection names an ordered entity collection or a keyed record collection.
type Collection string

const (
	Books      Collection = "books"
	Highlights Collection = "highlights"
	Flashcards Collection = "flashcards"
	QuizScores Collection = "quizScores"

	// Keyed collections: one record per key.
	Progress Collection = "progress"
	Meta     Collection = "meta"
)

// Meta keys.
const (
	KeySettings      = "settings"
	KeyCurrentBookID = "currentBookId"
)

// blobCollection is the logical name of the book file collection.
const blobCollection = "fileData"

var listCollections = []Collection{Books, Highlights, Flashcards, QuizScores}

var keyedCollections = []Collection{Progress, Meta}

// Record is one stored entity. Index carries the secondary index values
// (field -> value) a backend may use to serve GetAllByIndex.
type Record struct {
	ID    string            `json:"id"`
	Index map[string]string `json:"index,omitempty"`
	Data  json.RawMessage   `json:"data"`
}

// RecordBackend persists ordered collections and keyed records.
type RecordBackend interface {
	// GetAll returns every record in collection order; empty when none.
	GetAll(ctx context.Context, coll Collection) ([]Record, error)
	// GetAllByIndex returns the records whose Index[field] equals value,
	// in collection order.
	GetAllByIndex(ctx context.Context, coll Collection, field, value string) ([]Record, error)
	// ReplaceAll clears the collection and writes records in one transaction.
	ReplaceAll(ctx context.Context, coll Collection, records []Record) error
	// Update runs fn over the current records and stores its result
	// atomically. Concurrent updates of one collection never lose writes.
	Update(ctx context.Context, coll Collection, fn func([]Record) ([]Record, error)) error

	GetSingleton(ctx context.Context, coll Collection, key string) (json.RawMessage, bool, error)
	UpsertSingleton(ctx context.Context, coll Collection, key string, data json.RawMessage) error
	DeleteSingleton(ctx context.Context, coll Collection, key string) error
}

// BlobStore keeps one opaque byte buffer per book.
type BlobStore interface {
	PutBlob(ctx context.Context, bookID string, data []byte) error
	GetBlob(ctx context.Context, bookID string) ([]byte, bool, error)
	DeleteBlob(ctx context.Context, bookID string) error
}

// Backend is one storage variant, chosen once at initialization.
type Backend interface {
	RecordBackend
	BlobStore
	Kind() string
	Close() error
}

func isListCollection(coll Collection) bool {
	for _, c := range listCollections {
		if c == coll {
			return true
		}
	}
	return false
}

func isKeyedCollection(coll Collection) bool {
	for _, c := range keyedCollections {
		if c == coll {
			return true
		}
	}
	return false
}

func checkList(coll Collection) error {
	if !isListCollection(coll) {
		return unknownCollection(coll)
	}
	return nil
}

func checkKeyed(coll Collection) error {
	if !isKeyedCollection(coll) {
		return unknownCollection(coll)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneRecord(r Record) Record {
	out := Record{ID: r.ID, Data: cloneBytes(r.Data)}
	if len(r.Index) > 0 {
		out.Index = make(map[string]string, len(r.Index))
		for k, v := range r.Index {
			out.Index[k] = v
		}
	}
	return out
}

func filterByIndex(records []Record, field, value string) []Record {
	out := make([]Record, 0)
	for _, r := range records {
		if v, ok := r.Index[field]; ok && v == value {
			out = append(out, r)
		}
	}
	return out
}

func checkUniqueIDs(coll Collection, records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.ID == "" {
			return missingID(coll)
		}
		if _, ok := seen[r.ID]; ok {
			return duplicateID(coll, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
