package pgpool

import (
	"time"

	"github.com/bryanhughes/pgo/internal/pgconn"
)

// entry wraps a pgconn.Conn with the pool bookkeeping the connection itself
// doesn't know about: when it was created (for max-lifetime reaping) and
// when it was last returned to idle (for idle-timeout reaping).
type entry struct {
	conn      *pgconn.Conn
	createdAt time.Time
	idleSince time.Time
}

func (e *entry) expired(maxLifetime time.Duration) bool {
	if maxLifetime <= 0 {
		return false
	}
	return time.Since(e.createdAt) > maxLifetime
}

func (e *entry) idleTooLong(idleTimeout time.Duration) bool {
	if idleTimeout <= 0 {
		return false
	}
	return time.Since(e.idleSince) > idleTimeout
}
