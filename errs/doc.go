// Package errs collects the sentinel errors shared across the connection,
// session, and message layers so callers can classify failures with
// errors.Is rather than matching on error strings.
package errs
