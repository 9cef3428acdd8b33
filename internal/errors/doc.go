// Package errors defines the error taxonomy of the control protocol.
//
// Launch failures, process exits, per-line decode failures and per-message
// parse failures are structured types; transport closure, request timeouts
// and connection loss are sentinels. All of them support errors.Is and
// errors.As through Unwrap.
package errors
