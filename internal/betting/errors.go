package betting

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized         = errors.New("caller is not authorized")
	ErrInvalidState         = errors.New("operation not valid in current phase")
	ErrInvalidParticipant   = errors.New("invalid participant")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrBelowMinimum         = errors.New("amount below participant base value")
	ErrAlreadyClaimed       = errors.New("gamble already claimed")
	ErrNotWinner            = errors.New("gamble is not a winner")
	ErrWinnerUndeclared     = errors.New("winner not declared")
	ErrTooEarly             = errors.New("settling window has not elapsed")
	ErrShareExceedsSurplus  = errors.New("house share exceeds surplus pool")
	ErrAlreadyResolved      = errors.New("gamble already resolved")

	ErrGambleNotFound     = errors.New("gamble not found")
	ErrNotClaimed         = errors.New("gamble has not been claimed")
	ErrExceedsStake       = errors.New("payout exceeds gamble amount")
	ErrInsufficientEscrow = errors.New("insufficient escrow balance")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidEvent       = errors.New("invalid event")
)

// WaitError is returned by time-gated operations called before their gate opens.
// It matches ErrTooEarly under errors.Is.
type WaitError struct {
	Op        string
	Remaining time.Duration
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("%s: %v (retry in %v)", e.Op, ErrTooEarly, e.Remaining)
}

func (e *WaitError) Unwrap() error {
	return ErrTooEarly
}

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidState, "InvalidState"},
	{ErrInvalidParticipant, "InvalidParticipant"},
	{ErrDuplicateParticipant, "DuplicateParticipant"},
	{ErrBelowMinimum, "BelowMinimum"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrNotWinner, "NotWinner"},
	{ErrWinnerUndeclared, "WinnerUndeclared"},
	{ErrTooEarly, "TooEarly"},
	{ErrShareExceedsSurplus, "ShareExceedsSurplus"},
	{ErrAlreadyResolved, "AlreadyResolved"},
	{ErrGambleNotFound, "GambleNotFound"},
	{ErrNotClaimed, "NotClaimed"},
	{ErrExceedsStake, "ExceedsStake"},
	{ErrInsufficientEscrow, "InsufficientEscrow"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidEvent, "InvalidEvent"},
}

// KindOf returns the stable name of the error kind wrapped by err,
// "Internal" for anything else and "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
