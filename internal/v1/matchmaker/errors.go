package matchmaker

import "fmt"

// ErrorCode values surface to clients through the matchmake HTTP response.
// The numeric values are part of the client protocol; do not renumber.
type ErrorCode int

const (
	CodeNoHandler       ErrorCode = 4210
	CodeInvalidCriteria ErrorCode = 4211
	CodeInvalidRoomID   ErrorCode = 4212
	CodeUnhandled       ErrorCode = 4213
	CodeExpired         ErrorCode = 4214
	CodeSeatReservation ErrorCode = 4215
)

// Error is a user-surfaceable matchmaking failure carrying a protocol code.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

// ErrorCode routes the code through the IPC layer (ipc.CodedError).
func (e *Error) ErrorCode() int { return int(e.Code) }

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// SeatReservationError reports that a room filled up between discovery and
// reservation. It is the only error JoinOrCreate retries on.
type SeatReservationError struct {
	RoomID string
}

func (e *SeatReservationError) Error() string {
	return fmt.Sprintf("%s is already full.", e.RoomID)
}

// ErrorCode implements ipc.CodedError.
func (e *SeatReservationError) ErrorCode() int { return int(CodeSeatReservation) }
