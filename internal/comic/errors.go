package comic

import "errors"

var (
	// ErrNotFound reports a comic, image, or upstream resource that does not exist.
	ErrNotFound = errors.New("comic not found")
	// ErrUpstreamUnavailable aborts a run when the latest comic cannot be fetched.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrItemFetchFailed marks a backfill item that was skipped.
	ErrItemFetchFailed = errors.New("item fetch failed")
	// ErrUpdateInProgress rejects a run while another one holds the guard.
	ErrUpdateInProgress = errors.New("update already in progress")
)
