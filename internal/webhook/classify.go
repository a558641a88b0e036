package webhook

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ProcessingError tags a mutator failure as recoverable or permanent. Tags
// always win over the fallback heuristics in IsRecoverable.
type ProcessingError struct {
	Err         error
	Recoverable bool
}

func (e *ProcessingError) Error() string { return e.Err.Error() }
func (e *ProcessingError) Unwrap() error { return e.Err }

// Recoverable marks err as transient; the provider should retry.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Err: err, Recoverable: true}
}

// Permanent marks err as one a retry cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Err: err, Recoverable: false}
}

// Transient SQLSTATE codes and classes.
var recoverableSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
}

var recoverableFragments = []string{
	"connection",
	"timeout",
	"socket",
	"reset",
	"deadlock",
	"lock wait",
	"rate limit",
}

// IsRecoverable decides whether a processing failure should be retried by the
// provider. Order: explicit tag, context deadline, network timeout, pg
// SQLSTATE, then message fragments anywhere in the chain.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	var tagged *ProcessingError
	if errors.As(err, &tagged) {
		return tagged.Recoverable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || recoverableSQLStates[pgErr.Code] {
			return true
		}
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		for _, frag := range recoverableFragments {
			if strings.Contains(msg, frag) {
				return true
			}
		}
	}
	return false
}
