// Package viewer implements the read-only query engine and access
// control gate exposed to the session viewer's API and HTML frontend.
package viewer

import "errors"

// Sentinel errors naming the viewer's failure classes. The package's own
// functions do not return them: lookups surface the store's errors
// (such as *store.NotFoundError), and the Authenticator reports password
// mismatches as boolean results.
var (
	// ErrInvalidConfig names a Viewer configured with missing or
	// contradictory options.
	ErrInvalidConfig = errors.New("viewer: invalid configuration")

	// ErrNotFound names a session or metadata field lookup that found
	// nothing.
	ErrNotFound = errors.New("viewer: not found")

	// ErrBadRequest names query parameters that cannot be satisfied.
	ErrBadRequest = errors.New("viewer: bad request")

	// ErrAccessDenied names a password mismatch.
	ErrAccessDenied = errors.New("viewer: access denied")
)
