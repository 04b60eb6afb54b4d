package model

import "errors"

// Engine errors. All are recoverable by the caller and leave the session untouched.
var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrInvalidOption     = errors.New("invalid option")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrInvalidElapsed    = errors.New("elapsed seconds must not be negative")
	ErrEmptyBank         = errors.New("question bank is empty")
	ErrInvalidBank       = errors.New("invalid question bank")
)
