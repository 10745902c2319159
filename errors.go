package pgo

import (
	"errors"
	"fmt"

	"github.com/bryanhughes/pgo/internal/pgconn"
	"github.com/bryanhughes/pgo/internal/pgpool"
	"github.com/bryanhughes/pgo/internal/pgsession"
)

// Error is a PostgreSQL ErrorResponse, field-for-field: S (severity), C
// (SQLSTATE), M (message), and the rest of the single-byte field codes the
// backend sent. The connection that produced it remains usable — Query
// checks it back into the pool healthy.
type Error = pgconn.Error

// UnexpectedMessageError means the connection observed a message its state
// machine did not expect; the connection is broken and not returned to the
// pool.
type UnexpectedMessageError = pgconn.UnexpectedMessageError

// UnimplementedError is returned for authentication methods out of scope
// (Kerberos, SCM, GSSAPI, SSPI).
type UnimplementedError = pgconn.UnimplementedError

// ErrSSLRefused means the server declined TLS negotiation for a pool
// configured to require it.
var ErrSSLRefused error = &pgconn.SSLRefusedError{}

// ErrPoolTimeout is returned by Checkout/Query when no connection became
// available before the acquire timeout elapsed.
var ErrPoolTimeout = pgpool.ErrPoolTimeout

// ErrPoolFull is returned by Checkout when CheckoutQueue(false) is given and
// no connection is immediately available.
var ErrPoolFull = pgpool.ErrPoolFull

// InOtherPoolTransactionError is returned when Query is called inside a
// transaction whose ambient connection belongs to a different pool than
// the one requested.
type InOtherPoolTransactionError = pgsession.InOtherPoolTransactionError

// errUnknownPool is returned when an operation names a pool that was never
// started with StartPool.
func errUnknownPool(name string) error {
	return fmt.Errorf("pgo: no pool named %q (call StartPool first)", name)
}

// ErrNoAmbientConnection is returned by operations that require an ambient
// connection (none exists outside WithConn/Transaction).
var ErrNoAmbientConnection = errors.New("pgo: no ambient connection bound for this context")
