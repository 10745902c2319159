// Package pgconn owns one backend connection: the handshake, the extended
// and simple query state machines, and row decoding. It knows nothing about
// pooling — pgpool checks a Conn out, pgsession binds one into a caller's
// context, and pgconn only ever serves the query in front of it.
package pgconn

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bryanhughes/pgo/internal/typeregistry"
	"github.com/bryanhughes/pgo/internal/wire"
)

// Options configures a new backend connection.
type Options struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string // defaults to User if empty
	ApplicationName string
	Timezone        string
	SSLMode         SSLMode
	TLSConfig       *tls.Config
	DialTimeout     time.Duration

	// OnAuth, if set, is called once the handshake's authentication
	// exchange completes, naming the method used ("trust", "cleartext",
	// "md5", or "scram-sha-256") — telemetry hangs off this rather than
	// pgconn importing a metrics package directly.
	OnAuth func(method string)
}

// SSLMode selects whether/how TLS is negotiated before StartupMessage.
type SSLMode int

const (
	SSLDisable SSLMode = iota
	SSLPrefer
	SSLRequire
)

// Conn is a handle to one PostgreSQL backend session. Only one goroutine
// may use a Conn at a time — the pool's checkout discipline is what
// enforces this, not a lock inside Conn, except ioMu, which serializes the
// query paths so accidental concurrent use blocks instead of interleaving
// on the stream.
type Conn struct {
	ioMu sync.Mutex

	conn       net.Conn
	opts       Options
	poolName   string
	registry   *typeregistry.Registry
	refresh    RefreshFunc
	backendPID uint32
	backendKey uint32
	params     map[string]string
	broken     bool
	notify     func(Notification)
}

// OnNotification registers fn to be called for every NotificationResponse
// read while a query on this connection is in progress; one that arrives
// while the connection is idle is delivered during the next query. fn runs
// synchronously on whichever goroutine is driving I/O; it must not block.
func (c *Conn) OnNotification(fn func(Notification)) { c.notify = fn }

// RefreshFunc is invoked by the connection when it observes OIDs the type
// registry cannot resolve — it is always backed by a dedicated out-of-band
// connection opened by the owning pool (see pgpool.Pool.RefreshTypes),
// never the in-flight connection itself.
type RefreshFunc func(ctx context.Context, poolName string, missingOIDs []uint32) error

// Open dials host:port, runs the SSL negotiation (if requested) and the
// startup/authentication handshake, and returns a ready Conn once
// ReadyForQuery has been observed.
func Open(ctx context.Context, poolName string, opts Options, reg *typeregistry.Registry, refresh RefreshFunc) (*Conn, error) {
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pgconn: dial %s: %w", addr, err)
	}

	c := &Conn{conn: raw, opts: opts, poolName: poolName, registry: reg, refresh: refresh, params: map[string]string{}}

	if opts.SSLMode != SSLDisable {
		if err := c.negotiateSSL(); err != nil {
			c.conn.Close()
			return nil, err
		}
	}

	if err := c.handshake(); err != nil {
		c.conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *Conn) negotiateSSL() error {
	if err := wire.EncodeSSLRequest(c.conn); err != nil {
		return fmt.Errorf("pgconn: sending SSLRequest: %w", err)
	}
	var resp [1]byte
	if _, err := readFull(c.conn, resp[:]); err != nil {
		return fmt.Errorf("pgconn: reading SSL response: %w", err)
	}
	switch resp[0] {
	case 'S':
		tlsConf := c.opts.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{ServerName: c.opts.Host, MinVersion: tls.VersionTLS12}
		}
		tlsConn := tls.Client(c.conn, tlsConf)
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			return fmt.Errorf("pgconn: TLS handshake: %w", err)
		}
		c.conn = tlsConn
		return nil
	case 'N':
		if c.opts.SSLMode == SSLRequire {
			return &SSLRefusedError{}
		}
		return nil
	default:
		return fmt.Errorf("pgconn: unexpected SSL negotiation byte %q", resp[0])
	}
}

// handshake sends StartupMessage and drives authentication to ReadyForQuery.
func (c *Conn) handshake() error {
	database := c.opts.Database
	if database == "" {
		database = c.opts.User
	}
	params := []wire.StartupParam{
		{Key: "user", Value: c.opts.User},
		{Key: "database", Value: database},
	}
	if c.opts.ApplicationName != "" {
		params = append(params, wire.StartupParam{Key: "application_name", Value: c.opts.ApplicationName})
	}
	if c.opts.Timezone != "" {
		params = append(params, wire.StartupParam{Key: "timezone", Value: c.opts.Timezone})
	}

	if err := wire.EncodeStartup(c.conn, params); err != nil {
		return fmt.Errorf("pgconn: sending startup message: %w", err)
	}

	authMethod := "trust"

	for {
		tag, payload, err := wire.ReadMessage(c.conn)
		if err != nil {
			return fmt.Errorf("pgconn: reading handshake message: %w", err)
		}
		msg, err := wire.DecodeMessage(tag, payload)
		if err != nil {
			return fmt.Errorf("pgconn: decoding handshake message: %w", err)
		}

		switch tag {
		case wire.TagAuthentication:
			switch msg.Auth {
			case wire.AuthOK:
				if c.opts.OnAuth != nil {
					c.opts.OnAuth(authMethod)
				}
				continue
			case wire.AuthCleartextPassword:
				authMethod = "cleartext"
				if err := wire.EncodePassword(c.conn, c.opts.Password); err != nil {
					return fmt.Errorf("pgconn: sending cleartext password: %w", err)
				}
			case wire.AuthMD5Password:
				authMethod = "md5"
				if err := wire.EncodePassword(c.conn, md5Password(c.opts.User, c.opts.Password, msg.AuthSalt)); err != nil {
					return fmt.Errorf("pgconn: sending MD5 password: %w", err)
				}
			case wire.AuthSASL:
				authMethod = "scram-sha-256"
				if err := scramSHA256(c.conn, c.opts.User, c.opts.Password, msg.AuthData); err != nil {
					return fmt.Errorf("pgconn: SCRAM-SHA-256: %w", err)
				}
			case wire.AuthKerberosV5:
				return &UnimplementedError{Kind: "KerberosV5"}
			case wire.AuthSCM:
				return &UnimplementedError{Kind: "SCM"}
			case wire.AuthGSS, wire.AuthGSSContinue:
				return &UnimplementedError{Kind: "GSSAPI"}
			case wire.AuthSSPI:
				return &UnimplementedError{Kind: "SSPI"}
			default:
				return &UnexpectedMessageError{State: "handshake", Tag: tag}
			}

		case wire.TagParameterStatus:
			c.params[msg.ParamKey] = msg.ParamValue

		case wire.TagBackendKeyData:
			c.backendPID = msg.BackendPID
			c.backendKey = msg.BackendKey

		case wire.TagErrorResponse:
			return &Error{Fields: msg.ErrorFields}

		case wire.TagReadyForQuery:
			return nil

		default:
			return &UnexpectedMessageError{State: "handshake", Tag: tag}
		}
	}
}

func md5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}

// PoolName returns the name of the pool this connection was dialed for,
// used to scope type-registry lookups by pool name and OID together.
func (c *Conn) PoolName() string { return c.poolName }

// ServerParams returns the session parameters reported via ParameterStatus.
func (c *Conn) ServerParams() map[string]string { return c.params }

// BackendPID and BackendKey identify this session for a future CancelRequest.
func (c *Conn) BackendPID() uint32 { return c.backendPID }
func (c *Conn) BackendKey() uint32 { return c.backendKey }

// Broken reports whether the connection has been marked unusable (protocol
// corruption, cancellation mid-flight, or I/O error).
func (c *Conn) Broken() bool { return c.broken }

// Break forcibly marks the connection unusable and closes the socket
// without attempting a graceful Terminate. Used when the protocol state is
// indeterminate (cancellation mid-query, decode failure mid-stream).
func (c *Conn) Break() {
	c.broken = true
	c.conn.Close()
}

// Close sends Terminate (best-effort) and closes the transport.
func (c *Conn) Close() error {
	if !c.broken {
		_ = wire.EncodeTerminate(c.conn)
	}
	return c.conn.Close()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
