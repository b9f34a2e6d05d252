package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError
var ErrNotFound = errors.New("not found")

// NotFoundError names the missing record
type NotFoundError struct {
	Kind string // scheme, session, script, evaluation, review
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PersistenceError is a failed repository operation
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
