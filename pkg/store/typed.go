package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Entity is a value that can live in an ordered collection.
type Entity interface {
	StoreID() string
	StoreIndex() map[string]string
}

// Encode converts entities to records.
func Encode[T Entity](items []T) ([]Record, error) {
	out := make([]Record, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", item.StoreID(), err)
		}
		out = append(out, Record{ID: item.StoreID(), Index: item.StoreIndex(), Data: data})
	}
	return out, nil
}

// Decode converts records back into entities.
func Decode[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var item T
		if err := json.Unmarshal(r.Data, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.ID, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// List reads a collection as typed entities.
func List[T any](ctx context.Context, b RecordBackend, coll Collection) ([]T, error) {
	records, err := b.GetAll(ctx, coll)
	if err != nil {
		return nil, err
	}
	return Decode[T](records)
}

// ListByIndex reads the entities whose index field equals value.
func ListByIndex[T any](ctx context.Context, b RecordBackend, coll Collection, field, value string) ([]T, error) {
	records, err := b.GetAllByIndex(ctx, coll, field, value)
	if err != nil {
		return nil, err
	}
	return Decode[T](records)
}

// Mutate applies fn to the typed collection inside one atomic Update and
// returns the stored result.
func Mutate[T Entity](ctx context.Context, b RecordBackend, coll Collection, fn func([]T) ([]T, error)) ([]T, error) {
	var result []T
	err := b.Update(ctx, coll, func(records []Record) ([]Record, error) {
		items, err := Decode[T](records)
		if err != nil {
			return nil, err
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		result = next
		return Encode(next)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []T{}
	}
	return result, nil
}

// Get reads one keyed record.
func Get[T any](ctx context.Context, b RecordBackend, coll Collection, key string) (T, bool, error) {
	var out T
	data, ok, err := b.GetSingleton(ctx, coll, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, fmt.Errorf("decode %s/%s: %w", coll, key, err)
	}
	return out, true, nil
}

// Put writes one keyed record.
func Put[T any](ctx context.Context, b RecordBackend, coll Collection, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", coll, key, err)
	}
	return b.UpsertSingleton(ctx, coll, key, data)
}
