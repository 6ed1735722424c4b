package store

import (
	"errors"
	"fmt"
)

var (
	// ErrOperationFailed marks a failed read or write on an open backend.
	ErrOperationFailed = errors.New("storage operation failed")
	// ErrUnavailable marks a backend that could not be opened.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrInvalidRecord marks records rejected before reaching the backend.
	ErrInvalidRecord = errors.New("invalid record")
)

func opFailed(op string, coll any, err error) error {
	return fmt.Errorf("%s %v: %w: %w", op, coll, ErrOperationFailed, err)
}

func unavailable(kind string, err error) error {
	return fmt.Errorf("open %s: %w: %w", kind, ErrUnavailable, err)
}

func unknownCollection(coll Collection) error {
	return fmt.Errorf("%w: unknown collection %q", ErrInvalidRecord, string(coll))
}

func missingID(coll Collection) error {
	return fmt.Errorf("%w: %s record without id", ErrInvalidRecord, coll)
}

func duplicateID(coll Collection, id string) error {
	return fmt.Errorf("%w: duplicate %s id %q", ErrInvalidRecord, coll, id)
}
