package game

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInsufficientFunds = errors.New("insufficient resources")
	ErrRaidInProgress    = errors.New("raid already in progress")
	ErrEmptyFleet        = errors.New("fleet is empty")
	ErrLocationLocked    = errors.New("raid location locked")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrContention is returned when the checkpoint kept moving under us for
	// every allowed attempt.
	ErrContention = errors.New("player state contended, retries exhausted")
	// ErrLockTimeout is returned when the player lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for player lock")
	// ErrInvariant marks internal consistency violations. The transaction is
	// always rolled back.
	ErrInvariant = errors.New("internal invariant violated")
)

// InsufficientFundsError names the resources the player is short of.
type InsufficientFundsError struct {
	Missing []Resource
	Cost    Balances
}

func (e *InsufficientFundsError) Error() string {
	keys := make([]string, 0, len(e.Missing))
	for _, r := range e.Missing {
		keys = append(keys, r.Key())
	}
	return fmt.Sprintf("insufficient resources: %s", strings.Join(keys, ", "))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// RaidInProgressError reports the raid that blocked a new dispatch.
type RaidInProgressError struct {
	RaidID     int64
	ReturnTime time.Time
	Remaining  time.Duration
}

func (e *RaidInProgressError) Error() string {
	return fmt.Sprintf("raid %d returns in %s", e.RaidID, e.Remaining.Round(time.Second))
}

func (e *RaidInProgressError) Is(target error) bool {
	return target == ErrRaidInProgress
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
