package library

import "errors"

var (
	ErrInvalidBook       = errors.New("invalid book")
	ErrBookNotFound      = errors.New("book not found")
	ErrDuplicateBook     = errors.New("book already exists")
	ErrEmptyText         = errors.New("text is required")
	ErrEmptyCard         = errors.New("flashcard front and back are required")
	ErrInvalidPolicy     = errors.New("invalid delete policy")
	ErrHighlightNotFound = errors.New("highlight not found")
)
