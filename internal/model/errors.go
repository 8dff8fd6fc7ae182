package model

import (
	"errors"
)

var (
	// ErrConfig marks every error caused by invalid user input: config file,
	// target specification or a knowledge base record.
	ErrConfig  = errors.New("configuration error")
	ErrNoMatch = errors.New("no match")
)
