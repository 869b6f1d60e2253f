package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrInvalidID = errors.New("invalid conversation id")
	ErrBadRole   = errors.New("invalid message role")
)

// IOError reports a storage failure. The store never retries.
type IOError struct {
	Op  string
	ID  string
	Err error
}

func (e *IOError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, ID: id, Err: err}
}
