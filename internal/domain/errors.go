package domain

import "errors"

var (
	// ErrPersistence marks failures of the underlying storage. Mutating store
	// calls wrap it; callers decide whether to tell the end user.
	ErrPersistence = errors.New("persistence failure")

	// ErrCorruptData marks stored content that does not decode into the
	// expected structure.
	ErrCorruptData = errors.New("corrupt store data")
)
