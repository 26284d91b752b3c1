package errors

import "fmt"

var (
	ErrWorkerPanic   = fmt.Errorf("worker panic")
	ErrEmptyName     = fmt.Errorf("display name is empty")
	ErrEmptyContent  = fmt.Errorf("message content is empty")
	ErrNotIdentified = fmt.Errorf("session is not identified")
	ErrSinkFull      = fmt.Errorf("event sink buffer is full")
)

// ClientMessage maps an internal error to the string sent back to the
// originating session on the error channel. Internal wording never leaks
// to clients.
func ClientMessage(err error) string {
	switch err {
	case ErrNotIdentified:
		return "Please set your username first"
	case ErrEmptyName:
		return "Failed to set username. Please try again."
	case ErrEmptyContent:
		return "Failed to send message"
	default:
		return "Something went wrong"
	}
}
