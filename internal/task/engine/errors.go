package engine

import "errors"

// Enqueue errors. Callers treat all of them as "not run".
var (
	ErrStopped     = errors.New("executor not running")
	ErrStopping    = errors.New("executor shutting down")
	ErrQueueFull   = errors.New("executor queue full")
	ErrOverlapSkip = errors.New("previous run of this trigger still in flight")
)
