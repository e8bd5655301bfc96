package core

import "errors"

// Sentinel errors returned by the pool, list and subscription table.
// Callers compare with errors.Is; nothing in core retries on its own.
var (
	// ErrPoolExhausted means every slot of a fixed-capacity pool is in use.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrInvalidHandle means a handle was not issued by this pool/list, or
	// refers to a slot that has since been released.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrNotFound is returned by index and value lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrTableFull means a subscription table has no free entry for a new line.
	ErrTableFull = errors.New("subscription table full")

	// ErrNotSubscribed is returned when unsubscribing a line with no entry.
	ErrNotSubscribed = errors.New("line not subscribed")

	// ErrChannelRange means the driver mapped a line to a channel >= MaxChannels.
	ErrChannelRange = errors.New("interrupt channel out of range")

	// ErrStrategy is returned when an operation needs a different table strategy.
	ErrStrategy = errors.New("wrong subscription strategy")

	// ErrNoCallback rejects a subscription without a callback.
	ErrNoCallback = errors.New("nil callback")

	// ErrShutdown rejects configuration after an emergency stop.
	ErrShutdown = errors.New("firmware shut down")

	// ErrLineBusy rejects a line already held by another owner.
	ErrLineBusy = errors.New("line owned by another module")

	// ErrBadArgument is returned by command handlers for out-of-range arguments.
	ErrBadArgument = errors.New("argument out of range")
)
