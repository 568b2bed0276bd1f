package crew

import "errors"

var (
	// ErrUnknownSailor is returned for operations on a sailor name that was
	// never preregistered.
	ErrUnknownSailor = errors.New("crew: unknown sailor")
	// ErrSailorBusy is returned by Deregister when the sailor holds active
	// usage and force was not requested.
	ErrSailorBusy = errors.New("crew: sailor holds active chores")
)
