// Package pgo is a client for the PostgreSQL frontend/backend wire protocol:
// it speaks protocol 3.0 directly over TCP/TLS, pools live backend
// connections per named target, and threads an ambient connection through
// nested queries inside a transaction so callers never pass a handle by
// hand. See internal/pgconn (wire engine), internal/pgpool (connection
// pool), and internal/pgsession (transaction binding) for the three
// subsystems this package wires together.
package pgo

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/bryanhughes/pgo/internal/pgconn"
	"github.com/bryanhughes/pgo/internal/pgpool"
	"github.com/bryanhughes/pgo/internal/pgsession"
	"github.com/bryanhughes/pgo/internal/telemetry"
	"github.com/bryanhughes/pgo/internal/typeregistry"
)

// PoolConfig is the per-pool backend configuration: size, host, port,
// user, password, database, plus the optional ssl/application
// name/timezone knobs. See internal/config.PoolConfig for the YAML-loadable
// superset (timeouts, hot reload) this is built from.
type PoolConfig struct {
	Size            int
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         SSLMode
	TLSConfig       *tls.Config
	ApplicationName string
	Timezone        string

	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	DialTimeout    time.Duration
}

// SSLMode selects whether/how TLS is negotiated before the startup message.
type SSLMode = pgconn.SSLMode

const (
	SSLDisable = pgconn.SSLDisable
	SSLPrefer  = pgconn.SSLPrefer
	SSLRequire = pgconn.SSLRequire
)

var (
	registryMu sync.Mutex
	pools      = map[string]*pgpool.Pool{}
	typeReg    = typeregistry.New()
	collector  = telemetry.New()
)

// Telemetry returns the shared Prometheus collector every pool started via
// StartPool reports into — internal/admin hangs its /metrics handler off
// this, and it can equally be registered into a caller's own registry.
func Telemetry() *telemetry.Collector { return collector }

// Pools returns a snapshot of every pool currently registered, keyed by
// name. cmd/pgo-admin wraps it in an adapter that satisfies
// internal/health.Registry.
func Pools() map[string]*pgpool.Pool {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make(map[string]*pgpool.Pool, len(pools))
	for name, p := range pools {
		out[name] = p
	}
	return out
}

// StartPool creates and registers a named pool, available to Query,
// Transaction, and Checkout via the same name thereafter. Calling it twice
// with the same name replaces the previous pool (the old one is left to
// drain by its callers; it is not closed out from under in-flight users).
func StartPool(name string, cfg PoolConfig) (*pgpool.Pool, error) {
	if name == "" {
		return nil, fmt.Errorf("pgo: pool name must not be empty")
	}
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 30 * time.Second
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	size := cfg.Size
	if size <= 0 {
		size = 10
	}

	p := pgpool.New(pgpool.Options{
		Name:            name,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		ApplicationName: cfg.ApplicationName,
		Timezone:        cfg.Timezone,
		SSLMode:         cfg.SSLMode,
		TLSConfig:       cfg.TLSConfig,
		MaxConns:        size,
		IdleTimeout:     cfg.IdleTimeout,
		MaxLifetime:     cfg.MaxLifetime,
		AcquireTimeout:  acquireTimeout,
		DialTimeout:     dialTimeout,
		Hooks:           poolHooks(name),
	}, typeReg)

	registryMu.Lock()
	pools[name] = p
	registryMu.Unlock()
	return p, nil
}

// poolHooks wires pgpool's telemetry callbacks to the shared collector so
// Prometheus sees checkout queueing, exhaustion, connection churn, and
// handshake auth method without pgpool or pgconn importing telemetry
// directly.
func poolHooks(name string) *pgpool.Hooks {
	return &pgpool.Hooks{
		OnCheckout: func(queueTime time.Duration) {
			collector.QueueTime(name, queueTime)
			reportStats(name)
		},
		OnExhausted: func() {
			collector.PoolExhausted(name)
		},
		OnConnOpened: func() {
			reportStats(name)
		},
		OnConnClosed: func(reason string) {
			reportStats(name)
		},
		OnQueueDepth: func(depth int) {
			// Called while pgpool's internal lock is held (see
			// notifyQueueDepthLocked) — must not call back into Pool.Stats,
			// which would try to reacquire it.
			collector.SetQueueDepth(name, depth)
		},
		OnAuth: func(method string) {
			collector.AuthCompleted(name, method)
		},
	}
}

func reportStats(name string) {
	p, ok := Pool(name)
	if !ok {
		return
	}
	s := p.Stats()
	collector.UpdatePoolStats(name, s.Active, s.Idle, s.Total, s.Waiting)
}

// Pool returns the named pool registered by StartPool, if any.
func Pool(name string) (*pgpool.Pool, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	p, ok := pools[name]
	return p, ok
}

func mustPool(name string) (*pgpool.Pool, error) {
	p, ok := Pool(name)
	if !ok {
		return nil, errUnknownPool(name)
	}
	return p, nil
}

// Checkout removes a connection from poolName's ready set (or dials a new
// one, or waits per opts), returning a Ref the caller must Checkin or Break
// exactly once.
func Checkout(ctx context.Context, poolName string, opts ...CheckoutOption) (*pgpool.Ref, *pgconn.Conn, error) {
	p, err := mustPool(poolName)
	if err != nil {
		return nil, nil, err
	}
	cfg := newCheckoutConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}
	ref, err := p.CheckoutOpts(ctx, cfg.queue)
	if err != nil {
		return nil, nil, err
	}
	return ref, ref.Conn(), nil
}

// Checkin returns a checked-out connection to its pool. Safe to call more
// than once with the same ref; only the first call does anything.
func Checkin(ref *pgpool.Ref, conn *pgconn.Conn) {
	ref.Checkin()
}

// Break marks a checked-out connection unusable and discards it rather
// than returning it to the pool, for callers that know the protocol state
// is indeterminate (e.g. a context cancellation mid-query).
func Break(ref *pgpool.Ref, conn *pgconn.Conn) {
	ref.Break()
}

// WithConn binds conn as the ambient connection for fn's duration: nested
// Query calls inside fn run on conn instead of checking one out of a pool.
// poolName identifies which pool conn belongs to, for the cross-pool guard
// in Query.
func WithConn(ctx context.Context, poolName string, conn *pgconn.Conn, fn func(context.Context) error) error {
	return pgsession.WithConn(ctx, conn, poolName, fn)
}

// Transaction runs fn inside a BEGIN/COMMIT on a connection checked out of
// the named pool (WithTxPool, default "default"), binding that connection
// as ambient so nested Query calls inside fn share its session. If ctx is
// already inside a transaction on the same pool, fn is inlined onto the
// existing connection (no nested BEGIN/SAVEPOINT). Any error or panic from
// fn triggers ROLLBACK before the connection is checked back in and the
// failure re-raised.
func Transaction(ctx context.Context, fn func(context.Context) error, opts ...TxOption) error {
	cfg := newTxConfig()
	for _, o := range opts {
		o(cfg)
	}
	p, err := mustPool(cfg.pool)
	if err != nil {
		return err
	}
	return pgsession.Transaction(ctx, p, fn)
}
