package engine

// Error taxonomy shared by the backtest core and its callers

import "errors"

// Error is a coded failure. Sentinels below are matched with errors.Is.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

var (
	ErrInvalidInput       = &Error{Code: "INVALID_INPUT", Message: "non-finite or out-of-range value"}
	ErrInsufficientWarmup = &Error{Code: "INSUFFICIENT_WARMUP", Message: "window extends before data begins"}
	ErrInvalidState       = &Error{Code: "INVALID_STATE", Message: "entry attempted while a position is open"}
	ErrMarginExceeded     = &Error{Code: "MARGIN_EXCEEDED", Message: "required margin exceeds available cash"}
)

// Code extracts the taxonomy code from err, or "" when err carries none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
