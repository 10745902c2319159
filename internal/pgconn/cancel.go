package pgconn

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/bryanhughes/pgo/internal/wire"
)

// cancelRequestCode is sent in place of a protocol version to identify a
// CancelRequest, mirroring sslRequestCode's role for SSL negotiation.
const cancelRequestCode = 1234<<16 | 5678

// CancelKey is the (pid, secret key) pair a Conn's handshake captured from
// BackendKeyData, sufficient to issue a CancelRequest without holding the
// original Conn — so cancellation works from any caller, not just the
// goroutine that owns the connection.
type CancelKey struct {
	Host       string
	Port       int
	BackendPID uint32
	BackendKey uint32
}

// Key captures this connection's cancellation identity.
func (c *Conn) Key() CancelKey {
	return CancelKey{Host: c.opts.Host, Port: c.opts.Port, BackendPID: c.backendPID, BackendKey: c.backendKey}
}

// Cancel issues a CancelRequest for key over a fresh, short-lived
// connection, per protocol: dial, send the 16-byte request, close. The
// backend gives no reply; a cancellation that arrives after the target
// query already finished is silently a no-op.
func Cancel(ctx context.Context, key CancelKey) error {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	addr := net.JoinHostPort(key.Host, fmt.Sprintf("%d", key.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("pgconn: dialing for cancel: %w", err)
	}
	defer conn.Close()

	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:4], cancelRequestCode)
	binary.BigEndian.PutUint32(body[4:8], key.BackendPID)
	binary.BigEndian.PutUint32(body[8:12], key.BackendKey)
	if err := wire.WriteUntagged(conn, body); err != nil {
		return fmt.Errorf("pgconn: sending CancelRequest: %w", err)
	}
	return nil
}
