package progress

import "errors"

var (
	// ErrRecordNotFound means no progress record exists for the learner and course.
	ErrRecordNotFound = errors.New("progress record not found")
	// ErrInvalidReference means a course, unit, quiz or assignment ID is not in the catalog.
	ErrInvalidReference = errors.New("invalid catalog reference")
	// ErrInvalidScore means a score is outside its valid range.
	ErrInvalidScore = errors.New("invalid score")
	// ErrInvalidUpdate means an update carries a negative amount or unknown status.
	ErrInvalidUpdate = errors.New("invalid update")
	// ErrConflict means the record changed since it was read; nothing was written.
	ErrConflict = errors.New("progress record revision conflict")
)
