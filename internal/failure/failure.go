// Package failure classifies pipeline errors so each worker can decide
// whether to retry, give up, or surface the problem on the owning row.
package failure

import "errors"

var (
	// ErrParse marks a message that cannot yield a usable event candidate.
	ErrParse = errors.New("parse failure")
	// ErrTransient marks network, timeout and rate-limit errors from a dependency.
	ErrTransient = errors.New("transient dependency error")
	// ErrPermanent marks errors that will not succeed on retry, such as revoked
	// credentials or an unregistered delivery token.
	ErrPermanent = errors.New("permanent dependency error")
)

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string {
	return c.err.Error()
}

func (c *classified) Unwrap() []error {
	return []error{c.kind, c.err}
}

func wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// Parse tags err as a parse failure
func Parse(err error) error { return wrap(ErrParse, err) }

// Transient tags err as a transient dependency error
func Transient(err error) error { return wrap(ErrTransient, err) }

// Permanent tags err as a permanent dependency error
func Permanent(err error) error { return wrap(ErrPermanent, err) }

// IsParse reports whether err is a parse failure
func IsParse(err error) bool { return errors.Is(err, ErrParse) }

// IsPermanent reports whether err is a permanent dependency error
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient; only parse and permanent failures are terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	return !IsParse(err) && !IsPermanent(err)
}
