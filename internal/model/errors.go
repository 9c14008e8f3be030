package model

import (
	"errors"
)

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrDurationFormat  = errors.New("invalid duration format")
)
