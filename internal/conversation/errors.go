// ABOUTME: Declared turn errors returned by the conversation service
// ABOUTME: TurnError carries an HTTP-style code and the user-facing message

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when an inbound message has no content.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProfileMissing is returned when the lead role has no profile.
	ErrProfileMissing = errors.New("lead profile not found")

	// ErrTurnPanic is returned when a turn panicked and was recovered.
	ErrTurnPanic = errors.New("turn panicked")

	// ErrNoStore is returned by history reads when persistence is disabled.
	ErrNoStore = errors.New("conversation store not configured")
)

// User-facing messages.
const (
	msgContentRequired = "Message is required"
	msgTurnFailed      = "I apologize, but I encountered an error while processing your request. Please try again later."
)

// TurnError is the declared failure of HandleInbound.
type TurnError struct {
	Code    int    // 400 for invalid input, 500 for turn failures
	Message string // safe to show to the user
	TaskID  string // empty when no task was touched
	Err     error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("turn failed (%d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("turn failed (%d): %v", e.Code, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status for err: the TurnError code when err
// wraps one, 500 otherwise.
func StatusCode(err error) int {
	var te *TurnError
	if errors.As(err, &te) && te.Code != 0 {
		return te.Code
	}
	return 500
}
