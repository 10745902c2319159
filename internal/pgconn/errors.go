package pgconn

import "fmt"

// Error wraps a PostgreSQL ErrorResponse's field map exactly as received on
// the wire: single-byte field codes (e.g. 'S' severity, 'C' SQLSTATE code,
// 'M' message) mapped to their values.
type Error struct {
	Fields map[byte]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pgsql_error: %s (%s): %s", e.Fields['S'], e.Fields['C'], e.Fields['M'])
}

// Severity returns the 'S' field (e.g. "ERROR", "FATAL").
func (e *Error) Severity() string { return e.Fields['S'] }

// Code returns the 'C' field, the SQLSTATE error code.
func (e *Error) Code() string { return e.Fields['C'] }

// Message returns the 'M' field, the primary human-readable message.
func (e *Error) Message() string { return e.Fields['M'] }

// UnexpectedMessageError is returned when a message arrives that violates
// the protocol state machine's invariants. The connection is always marked
// broken when this is returned.
type UnexpectedMessageError struct {
	State string
	Tag   byte
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("pgconn: unexpected message %q in state %s", e.Tag, e.State)
}

// UnimplementedError is returned for authentication methods this module
// does not speak (Kerberos/SCM/GSS/SSPI).
type UnimplementedError struct{ Kind string }

func (e *UnimplementedError) Error() string {
	return fmt.Sprintf("pgconn: unimplemented authentication method: %s", e.Kind)
}

// SSLRefusedError is returned when the server declines TLS negotiation and
// the caller required it.
type SSLRefusedError struct{}

func (e *SSLRefusedError) Error() string { return "pgconn: server refused SSL negotiation" }
