package exchange

import "errors"

var (
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrNotInitialized     = errors.New("exchange not initialized")
	ErrAlreadyInitialized = errors.New("exchange already initialized")
	ErrSource             = errors.New("quote source failed")
	ErrClosed             = errors.New("exchange closed")
)
