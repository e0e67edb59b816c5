package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrWriteRejected    = errors.New("write rejected by store")

	// ErrNotInitialized is returned when no Cachify has been configured,
	// neither through core.Init nor injected in the context.
	ErrNotInitialized = errors.New("cachify: not initialized, did you forget to call core.Init?")
	// ErrKeyFormat matches every *KeyFormatError.
	ErrKeyFormat = errors.New("cachify: key format error")
	// ErrLockHeld matches every *LockHeldError.
	ErrLockHeld = errors.New("cachify: lock is held")
)

// KeyFormatError reports a key template that cannot be resolved against the
// bound arguments of a call.
type KeyFormatError struct {
	Template string
	Args     string
	Err      error
}

func (e *KeyFormatError) Error() string {
	msg := fmt.Sprintf("cachify: arguments in key(%s) do not match function signature params(%s)", e.Template, e.Args)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *KeyFormatError) Is(target error) bool { return target == ErrKeyFormat }

func (e *KeyFormatError) Unwrap() error { return e.Err }

// LockHeldError is returned when a lock could not be acquired, either on the
// immediate check or after the wait timeout elapsed.
type LockHeldError struct {
	Key string
}

func (e *LockHeldError) Error() string { return fmt.Sprintf("cachify: %s is already locked", e.Key) }

func (e *LockHeldError) Is(target error) bool { return target == ErrLockHeld }
