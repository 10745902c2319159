// Package pgsession binds a checked-out connection to the ambient call chain
// as a context.Context value, so nested queries inside a transaction reuse
// the same backend connection without threading it through every call.
// Because a context.Context is immutable and scoped to whatever derives
// from it,
// "restore the previous binding on all exit paths" falls out of the type
// itself: WithConn/Transaction hand fn a child context, and the caller's
// original ctx is never touched, panic or no panic.
package pgsession

import (
	"context"
	"fmt"

	"github.com/bryanhughes/pgo/internal/pgconn"
	"github.com/bryanhughes/pgo/internal/pgpool"
)

type bindingKey struct{}

type binding struct {
	conn     *pgconn.Conn
	poolName string
}

// InOtherPoolTransactionError is returned when a query is issued inside a
// transaction whose ambient connection belongs to a different pool than
// the one requested.
type InOtherPoolTransactionError struct {
	Pool string
}

func (e *InOtherPoolTransactionError) Error() string {
	return fmt.Sprintf("pgsession: query requested pool %q but caller is inside a transaction on another pool", e.Pool)
}

// WithConn binds c as the ambient connection for the duration of fn,
// restoring whatever (or nothing) was bound before once fn returns — a
// structural guarantee of deriving a child context rather than mutating a
// shared one.
func WithConn(ctx context.Context, c *pgconn.Conn, poolName string, fn func(context.Context) error) error {
	child := context.WithValue(ctx, bindingKey{}, &binding{conn: c, poolName: poolName})
	return fn(child)
}

// FromContext returns the ambient connection bound by WithConn/Transaction,
// if any, along with the name of the pool it was checked out from.
func FromContext(ctx context.Context) (conn *pgconn.Conn, poolName string, ok bool) {
	b, ok := ctx.Value(bindingKey{}).(*binding)
	if !ok {
		return nil, "", false
	}
	return b.conn, b.poolName, true
}

// ResolveConn returns the ambient connection bound for the current call
// chain, checking it against wantPool. If no ambient connection is bound,
// ok is false and the caller should check one out of wantPool itself. If
// one is bound but for a different pool, it returns
// InOtherPoolTransactionError rather than silently querying the wrong
// backend.
func ResolveConn(ctx context.Context, wantPool string) (conn *pgconn.Conn, ok bool, err error) {
	c, poolName, bound := FromContext(ctx)
	if !bound {
		return nil, false, nil
	}
	if poolName != wantPool {
		return nil, false, &InOtherPoolTransactionError{Pool: wantPool}
	}
	return c, true, nil
}

// Transaction runs fn inside a BEGIN/COMMIT block on a checked-out backend
// session:
//   - if ctx already carries an ambient connection for pool, fn runs
//     directly on it: nested transactions inline rather than nesting with
//     SAVEPOINT.
//   - otherwise, a connection is checked out, BEGIN is sent, fn runs with
//     that connection bound as ambient, then COMMIT; any error or panic
//     from BEGIN/fn/COMMIT triggers a best-effort ROLLBACK before the
//     connection is checked back in and the original failure re-raised
//     (or the panic re-panicked).
func Transaction(ctx context.Context, pool *pgpool.Pool, fn func(context.Context) error) (err error) {
	if _, poolName, bound := FromContext(ctx); bound {
		if poolName != pool.Name() {
			return &InOtherPoolTransactionError{Pool: pool.Name()}
		}
		return fn(ctx)
	}

	ref, err := pool.Checkout(ctx)
	if err != nil {
		return fmt.Errorf("pgsession: checking out connection for transaction: %w", err)
	}
	conn := ref.Conn()
	checkedIn := false
	checkin := func() {
		if !checkedIn {
			checkedIn = true
			ref.Checkin()
		}
	}

	if _, beginErr := conn.SimpleQuery(ctx, "BEGIN"); beginErr != nil {
		checkin()
		return fmt.Errorf("pgsession: BEGIN: %w", beginErr)
	}

	child := context.WithValue(ctx, bindingKey{}, &binding{conn: conn, poolName: pool.Name()})

	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, conn)
			checkin()
			panic(p)
		}
	}()

	if err = fn(child); err != nil {
		rollback(ctx, conn)
		checkin()
		return err
	}

	if _, commitErr := conn.SimpleQuery(ctx, "COMMIT"); commitErr != nil {
		rollback(ctx, conn)
		checkin()
		return fmt.Errorf("pgsession: COMMIT: %w", commitErr)
	}

	checkin()
	return nil
}

// rollback issues ROLLBACK best-effort: its own failure never masks the
// original error the caller is already propagating.
func rollback(ctx context.Context, conn *pgconn.Conn) {
	_, _ = conn.SimpleQuery(ctx, "ROLLBACK")
}
