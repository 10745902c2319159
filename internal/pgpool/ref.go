package pgpool

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bryanhughes/pgo/internal/pgconn"
)

// Ref is an opaque, idempotent receipt for one checked-out connection.
// Checkin and Break are each safe to call multiple times or from multiple
// goroutines — only the first call does anything, so that a defer
// alongside an explicit early return never double-releases a connection.
// A duplicate release is logged: it usually means two code paths both
// believe they own the connection.
type Ref struct {
	pool      *Pool
	e         *entry
	queueTime time.Duration

	done atomic.Bool
}

// Conn exposes the underlying connection for issuing queries. It remains
// valid until Checkin or Break is called.
func (r *Ref) Conn() *pgconn.Conn { return r.e.conn }

// QueueTime reports how long this checkout waited in the pool's FIFO queue
// between enqueue and handoff. Zero when a connection was immediately
// available or freshly dialed — no queueing occurred.
func (r *Ref) QueueTime() time.Duration { return r.queueTime }

// Checkin returns the connection to the pool for reuse. If the connection
// has been marked broken (by a prior protocol error), it is closed instead
// of recycled.
func (r *Ref) Checkin() {
	if !r.done.CompareAndSwap(false, true) {
		slog.Warn("duplicate checkin ignored", "pool", r.pool.opts.Name)
		return
	}
	r.pool.checkin(r.e)
}

// Break marks the connection unusable and discards it, regardless of its
// actual protocol state — for callers that know recovery isn't possible
// (e.g. a context cancellation mid-query).
func (r *Ref) Break() {
	if !r.done.CompareAndSwap(false, true) {
		slog.Warn("duplicate break ignored", "pool", r.pool.opts.Name)
		return
	}
	r.e.conn.Break()
	r.pool.checkin(r.e)
}
