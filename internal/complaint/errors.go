package complaint

import "errors"

var (
	// ErrValidation marks malformed input rejected before any work is done.
	ErrValidation = errors.New("validation failed")
	// ErrModelUnavailable means the classifier was never initialized.
	ErrModelUnavailable = errors.New("classification model unavailable")
	// ErrUnroutableCategory means the routing table has no entry for a category.
	ErrUnroutableCategory = errors.New("no route for category")
	// ErrPersistence means the record could not be stored.
	ErrPersistence = errors.New("persistence failed")
	// ErrNotification means delivery failed. It never fails a submission.
	ErrNotification = errors.New("notification failed")
	// ErrNotFound is returned by lookups for ids that do not exist.
	ErrNotFound = errors.New("complaint not found")
)
