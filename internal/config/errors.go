package config

import (
	"errors"
	"fmt"
)

// Configuration validation errors
var (
	ErrNoBuses       = errors.New("no buses configured")
	ErrInvalidBudget = errors.New("invalid budget bounds")
	ErrInvalidPort   = errors.New("invalid port number")
)

// Configuration watch errors
var ErrConfigWatchError = errors.New("configuration watch error")

// BusError ties a validation error to a bus id.
type BusError struct {
	Bus string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Bus, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }
