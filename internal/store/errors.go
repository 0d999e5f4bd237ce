package store

import "errors"

var (
	ErrNoSnapshot      = errors.New("store: no snapshot")
	ErrUserExists      = errors.New("store: user already exists")
	ErrUserNotFound    = errors.New("store: user not found")
	ErrRoomExists      = errors.New("store: room already exists")
	ErrRoomNotFound    = errors.New("store: room not found")
	ErrMessageNotFound = errors.New("store: message not found")
	ErrPollNotFound    = errors.New("store: poll not found")
	ErrInvalidOption   = errors.New("store: option not part of poll")
	ErrFileNotFound    = errors.New("store: file not found")
)
