package session

import "errors"

var (
	ErrInvalidRecord = errors.New("invalid session record")
	ErrUnresolved    = errors.New("participant not found")
	ErrNoLocalRecord = errors.New("no local session record")
	ErrSaveNotFound  = errors.New("save not found")
)
