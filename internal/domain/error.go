package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Relay errors. None of them is fatal to the process: each one is scoped
	// to a single event, command or recipient.
	ErrValidation    = errors.New("malformed event")
	ErrAuthorization = errors.New("not authorized")
	ErrNoMatch       = errors.New("no routing rule matched")
	ErrNoRecipient   = errors.New("recipient has no registered chat")
	ErrDelivery      = errors.New("message delivery failed")
	ErrLockHeld      = errors.New("lock is held by another run")
)
