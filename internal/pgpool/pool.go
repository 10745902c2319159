// Package pgpool implements a bounded connection pool with a strict FIFO
// waiter queue: callers blocked on Checkout are served in the order they
// arrived, never overtaken by a later arrival that happens to race the
// wakeup. Ready (idle) connections are reused LIFO, so a bursty workload
// keeps reusing the same handful of warm sockets instead of round-robining
// across all of them.
package pgpool

import (
	"container/list"
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/bryanhughes/pgo/internal/pgconn"
	"github.com/bryanhughes/pgo/internal/typeregistry"
)

// Options configures a Pool.
type Options struct {
	Name            string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	ApplicationName string
	Timezone        string
	SSLMode         pgconn.SSLMode
	TLSConfig       *tls.Config

	MinConns       int
	MaxConns       int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
	DialTimeout    time.Duration

	Hooks *Hooks
}

// Hooks are optional telemetry callbacks; nil fields are skipped. They let
// internal/telemetry observe pool internals without pgpool importing it.
type Hooks struct {
	OnCheckout   func(queueTime time.Duration)
	OnExhausted  func()
	OnConnOpened func()
	OnConnClosed func(reason string)
	OnQueueDepth func(depth int)
	OnAuth       func(method string)
}

type waiter struct {
	ch chan *entry
}

// Pool manages one backend's connections: bounded total count, an idle
// stack for reuse, and a FIFO queue for callers waiting on exhaustion.
type Pool struct {
	opts Options
	reg  *typeregistry.Registry

	mu      sync.Mutex
	idle    []*entry
	waiters list.List // of *waiter
	active  map[*entry]struct{}
	total   int
	closed  bool
	stopCh  chan struct{}

	exhaustedCount int64
}

// New creates a pool. It does not dial any connections until warm-up
// (triggered by MinConns > 0) or the first Checkout.
func New(opts Options, reg *typeregistry.Registry) *Pool {
	p := &Pool{
		opts:   opts,
		reg:    reg,
		active: make(map[*entry]struct{}),
		stopCh: make(chan struct{}),
	}
	go p.reapLoop()
	if opts.MinConns > 0 {
		go p.warmUp()
	}
	return p
}

func (p *Pool) warmUp() {
	for i := 0; i < p.opts.MinConns; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.opts.MinConns {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		e, err := p.dial(context.Background())
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			e.conn.Close()
			return
		}
		e.idleSince = time.Now()
		p.idle = append(p.idle, e)
		p.mu.Unlock()
	}
}

// Checkout returns a Ref to a ready connection, creating one if the pool is
// under MaxConns, or waiting in strict FIFO order if it is at capacity.
// The wait honors both ctx's deadline and the pool's AcquireTimeout,
// whichever is sooner. Equivalent to CheckoutOpts(ctx, true).
func (p *Pool) Checkout(ctx context.Context) (*Ref, error) {
	return p.CheckoutOpts(ctx, true)
}

// CheckoutOpts is Checkout with the queue option made explicit: when queue
// is false and no connection is immediately available (idle, or room to
// dial a new one), it returns ErrPoolFull instead of enqueuing a waiter.
func (p *Pool) CheckoutOpts(ctx context.Context, queue bool) (*Ref, error) {
	deadline := time.Now().Add(p.opts.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pgpool: pool %q is closed", p.opts.Name)
	}

	for len(p.idle) > 0 {
		e := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if e.expired(p.opts.MaxLifetime) {
			p.total--
			p.mu.Unlock()
			e.conn.Close()
			p.notifyClosed("max-lifetime")
			p.mu.Lock()
			continue
		}
		p.active[e] = struct{}{}
		p.mu.Unlock()
		p.notifyCheckout(0)
		return &Ref{pool: p, e: e}, nil
	}

	if p.total < p.opts.MaxConns {
		p.total++
		p.mu.Unlock()

		e, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		p.mu.Lock()
		p.active[e] = struct{}{}
		p.mu.Unlock()
		// Dial and handshake latency is not queue time: nothing waited.
		p.notifyCheckout(0)
		return &Ref{pool: p, e: e}, nil
	}

	p.exhaustedCount++
	if p.opts.Hooks != nil && p.opts.Hooks.OnExhausted != nil {
		p.opts.Hooks.OnExhausted()
	}
	if !queue {
		p.mu.Unlock()
		return nil, ErrPoolFull
	}
	w := &waiter{ch: make(chan *entry, 1)}
	elem := p.waiters.PushBack(w)
	enqueued := time.Now()
	p.notifyQueueDepthLocked()
	p.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case e, ok := <-w.ch:
		if !ok {
			return nil, fmt.Errorf("pgpool: pool %q closed while waiting", p.opts.Name)
		}
		queueTime := time.Since(enqueued)
		p.mu.Lock()
		p.active[e] = struct{}{}
		p.mu.Unlock()
		p.notifyCheckout(queueTime)
		return &Ref{pool: p, e: e, queueTime: queueTime}, nil

	case <-ctx.Done():
		err := ctx.Err()
		if err == context.DeadlineExceeded {
			err = fmt.Errorf("pgpool: acquire deadline for pool %q: %w", p.opts.Name, ErrPoolTimeout)
		}
		return p.abandonWait(elem, w, err)

	case <-timer.C:
		return p.abandonWait(elem, w, fmt.Errorf("pgpool: acquire timeout (%s) for pool %q: %w", p.opts.AcquireTimeout, p.opts.Name, ErrPoolTimeout))
	}
}

// abandonWait handles the race between a waiter timing out/canceling and a
// Checkin concurrently delivering a connection to it: if delivery already
// happened, the connection is handed straight back to the pool instead of
// being silently leaked.
func (p *Pool) abandonWait(elem *list.Element, w *waiter, err error) (*Ref, error) {
	p.mu.Lock()
	select {
	case e := <-w.ch:
		p.mu.Unlock()
		p.checkin(e)
		return nil, err
	default:
		p.waiters.Remove(elem)
		p.notifyQueueDepthLocked()
		p.mu.Unlock()
		return nil, err
	}
}

// checkin is invoked by Ref.Checkin/Ref.Break once per Ref. It hands the
// connection directly to the longest-waiting caller if one exists, else
// returns it to the idle stack (or closes it, if broken/expired/closing).
func (p *Pool) checkin(e *entry) {
	p.mu.Lock()
	delete(p.active, e)

	if e.conn.Broken() || p.closed || e.expired(p.opts.MaxLifetime) {
		p.total--
		p.mu.Unlock()
		e.conn.Close()
		p.notifyClosed("broken-or-closed")
		return
	}

	if front := p.waiters.Front(); front != nil {
		p.waiters.Remove(front)
		p.notifyQueueDepthLocked()
		p.mu.Unlock()
		front.Value.(*waiter).ch <- e
		return
	}

	e.idleSince = time.Now()
	p.idle = append(p.idle, e)
	p.mu.Unlock()
}

func (p *Pool) dial(ctx context.Context) (*entry, error) {
	var onAuth func(string)
	if p.opts.Hooks != nil && p.opts.Hooks.OnAuth != nil {
		onAuth = p.opts.Hooks.OnAuth
	}
	conn, err := pgconn.Open(ctx, p.opts.Name, pgconn.Options{
		Host: p.opts.Host, Port: p.opts.Port,
		User: p.opts.User, Password: p.opts.Password, Database: p.opts.Database,
		ApplicationName: p.opts.ApplicationName, Timezone: p.opts.Timezone,
		SSLMode: p.opts.SSLMode, TLSConfig: p.opts.TLSConfig, DialTimeout: p.opts.DialTimeout,
		OnAuth: onAuth,
	}, p.reg, p.RefreshTypes)
	if err != nil {
		return nil, fmt.Errorf("pgpool: dialing pool %q: %w", p.opts.Name, err)
	}
	if p.opts.Hooks != nil && p.opts.Hooks.OnConnOpened != nil {
		p.opts.Hooks.OnConnOpened()
	}
	return &entry{conn: conn, createdAt: time.Now()}, nil
}

func (p *Pool) notifyCheckout(queueTime time.Duration) {
	if p.opts.Hooks != nil && p.opts.Hooks.OnCheckout != nil {
		p.opts.Hooks.OnCheckout(queueTime)
	}
}

func (p *Pool) notifyClosed(reason string) {
	if p.opts.Hooks != nil && p.opts.Hooks.OnConnClosed != nil {
		p.opts.Hooks.OnConnClosed(reason)
	}
}

// notifyQueueDepthLocked must be called with p.mu held.
func (p *Pool) notifyQueueDepthLocked() {
	if p.opts.Hooks != nil && p.opts.Hooks.OnQueueDepth != nil {
		p.opts.Hooks.OnQueueDepth(p.waiters.Len())
	}
}

// Registry returns the type registry this pool's connections share, so
// callers building bind parameters can encode/decode by OID the same way
// the connections themselves do.
func (p *Pool) Registry() *typeregistry.Registry { return p.reg }

// Name returns the pool's configured name, used by pgsession to guard
// against a transaction's ambient connection being used against a
// different pool than the one that issued it.
func (p *Pool) Name() string { return p.opts.Name }

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Name      string
	Active    int
	Idle      int
	Total     int
	Waiting   int
	MaxConns  int
	MinConns  int
	Exhausted int64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name: p.opts.Name, Active: len(p.active), Idle: len(p.idle), Total: p.total,
		Waiting: p.waiters.Len(), MaxConns: p.opts.MaxConns, MinConns: p.opts.MinConns,
		Exhausted: p.exhaustedCount,
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) <= p.opts.MinConns {
		return
	}
	excess := len(p.idle) - p.opts.MinConns
	kept := make([]*entry, 0, len(p.idle))
	for i, e := range p.idle {
		if i < excess && (e.idleTooLong(p.opts.IdleTimeout) || e.expired(p.opts.MaxLifetime)) {
			e.conn.Close()
			p.total--
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept
}

// Drain closes idle connections and waits (up to 30s) for active ones to be
// returned, then force-closes any stragglers.
func (p *Pool) Drain() {
	p.mu.Lock()
	for _, e := range p.idle {
		e.conn.Close()
		p.total--
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return
	}

	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-deadline:
			p.mu.Lock()
			for e := range p.active {
				e.conn.Close()
				p.total--
			}
			p.active = make(map[*entry]struct{})
			p.mu.Unlock()
			return
		}
	}
}

// Close shuts the pool down: no further Checkout succeeds, all waiters are
// released with an error, and Drain runs to close idle/active connections.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		close(e.Value.(*waiter).ch)
	}
	p.waiters.Init()
	p.mu.Unlock()

	p.Drain()
}
