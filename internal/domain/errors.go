package domain

import "errors"

var (
	// ErrDuplicateConnection is returned when a connection ID is registered twice.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrUnknownConnection is returned when an operation names a connection that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a connection's outbound buffer is full.
	ErrSendBufferFull = errors.New("send buffer full")

	ErrInvalidRoom     = errors.New("invalid room")
	ErrRoomNotJoinable = errors.New("room cannot be joined explicitly")
	ErrUnknownEvent    = errors.New("unknown event")
	ErrInvalidTarget   = errors.New("exactly one of room or user_id is required")
	ErrUnauthenticated = errors.New("connection is not authenticated")
	ErrAlreadyAuthed   = errors.New("connection is already authenticated")
	ErrTooManyUserIDs  = errors.New("too many user ids")
)

// MaxStatusBatch caps the ids accepted by one status query.
const MaxStatusBatch = 200
