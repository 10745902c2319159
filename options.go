package pgo

import "time"

const defaultPoolName = "default"

// QueryOption configures one Query call: which pool to use, whether to
// queue when the pool is full, and how to shape the returned rows.
type QueryOption func(*queryConfig)

type queryConfig struct {
	pool           string
	queue          bool
	returnRowsMaps bool
}

func newQueryConfig() *queryConfig {
	return &queryConfig{pool: defaultPoolName, queue: true}
}

// WithPool selects which named pool a Query runs against (default
// "default").
func WithPool(name string) QueryOption {
	return func(c *queryConfig) { c.pool = name }
}

// WithQueue controls whether Query blocks waiting for a connection to free
// up (true, the default) or fails immediately with ErrPoolFull when the
// pool is exhausted (false).
func WithQueue(queue bool) QueryOption {
	return func(c *queryConfig) { c.queue = queue }
}

// WithRowsAsMaps requests Result.RowMaps (column name -> value) instead of
// Result.Rows (ordered values).
func WithRowsAsMaps(asMaps bool) QueryOption {
	return func(c *queryConfig) { c.returnRowsMaps = asMaps }
}

// TxOption configures one Transaction call.
type TxOption func(*txConfig)

type txConfig struct {
	pool string
}

func newTxConfig() *txConfig {
	return &txConfig{pool: defaultPoolName}
}

// WithTxPool selects which named pool Transaction checks a connection out
// of when no ambient connection is already bound (default "default").
func WithTxPool(name string) TxOption {
	return func(c *txConfig) { c.pool = name }
}

// CheckoutOption configures one Checkout call.
type CheckoutOption func(*checkoutConfig)

type checkoutConfig struct {
	queue   bool
	timeout time.Duration
}

func newCheckoutConfig() *checkoutConfig {
	return &checkoutConfig{queue: true}
}

// WithCheckoutQueue mirrors WithQueue for direct Checkout calls.
func WithCheckoutQueue(queue bool) CheckoutOption {
	return func(c *checkoutConfig) { c.queue = queue }
}

// WithCheckoutTimeout bounds this one Checkout call by deriving a context
// with this deadline; the pool's AcquireTimeout still applies when shorter.
func WithCheckoutTimeout(d time.Duration) CheckoutOption {
	return func(c *checkoutConfig) { c.timeout = d }
}
