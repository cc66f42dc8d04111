package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("invalid input")
	ErrDataIntegrity = errors.New("data integrity violation")
	ErrNoPrice       = errors.New("no live price available")
	ErrStalePrice    = errors.New("price is stale")
	ErrDeadBook      = errors.New("order book is dead")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
)
