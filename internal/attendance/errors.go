package attendance

import "errors"

var (
	ErrInvalidEvent = errors.New("invalid attendance event")
	// ErrUpload means the photo never reached storage; the client should retake.
	ErrUpload = errors.New("photo upload failed")
	// ErrRecordWrite means the photo is stored but the record write failed; the
	// client may resubmit the same event without retaking.
	ErrRecordWrite      = errors.New("attendance write failed after photo upload")
	ErrAlreadyCompleted = errors.New("attendance already completed for this day")
	ErrConflict         = errors.New("attendance record already exists for this day")
	ErrClockSkew        = errors.New("check-out time is earlier than check-in time")
	ErrNotFound         = errors.New("attendance record not found")
	ErrInvalidRange     = errors.New("invalid date range")
	// ErrUnknownUser means the event's user has no profile. Resubmitting cannot succeed.
	ErrUnknownUser = errors.New("no profile for attendance user")
)

// WriteError wraps a repository failure that happened after the photo upload
// succeeded. It matches both ErrRecordWrite and the underlying cause.
type WriteError struct {
	PhotoURL string
	Err      error
}

func (e *WriteError) Error() string {
	return ErrRecordWrite.Error() + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrRecordWrite, e.Err}
}
