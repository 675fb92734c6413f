package cloud

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the requested session does not exist in the
// relational store.
var ErrNotFound = errors.New("session not found")

// TransportError is a non-2xx response from the relational store. It carries
// the HTTP status and the raw body so callers can log the service's own
// diagnostics.
type TransportError struct {
	Op     string
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cloud history %s failed: status=%d body=%s", e.Op, e.Status, e.Body)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
