package pgpool

import "errors"

// ErrPoolTimeout is returned by Checkout when a waiter's deadline (the
// shorter of ctx's deadline and the pool's AcquireTimeout) elapses before a
// connection becomes available. The pool's own state is untouched.
var ErrPoolTimeout = errors.New("pgpool: acquire timeout")

// ErrPoolFull is returned by CheckoutOpts(ctx, false) when the pool is at
// MaxConns and no connection is immediately ready — the caller asked not
// to queue.
var ErrPoolFull = errors.New("pgpool: pool full")
