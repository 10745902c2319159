package pgconn

import (
	"context"
	"fmt"

	"github.com/bryanhughes/pgo/internal/wire"
)

// ExtendedQuery runs one Parse/Bind/Describe/Execute cycle with
// client-inferred parameter type OIDs. stmtName and portalName are almost
// always "" (unnamed statement/portal); non-empty names are for callers
// that maintain their own prepared-statement cache across queries on the
// same Conn. fetchSize limits rows per Execute (0 means "all rows"); when
// the backend reports PortalSuspended this resends Execute+Flush until the
// command completes, implementing cursor-style fetch of a large result set
// in bounded batches.
//
// On ErrorResponse, Sync is always sent (if not already in flight) before
// returning, so the connection is resynchronized and safe to reuse for the
// next query — this is the one case where a failed call does not imply a
// broken Conn.
func (c *Conn) ExtendedQuery(ctx context.Context, stmtName, portalName, sql string, params []any, paramTypeOIDs []uint32, encodeParam wire.ParamEncoder, fetchSize uint32) (*Result, error) {
	return c.extendedQuery(ctx, stmtName, portalName, sql, params, paramTypeOIDs, encodeParam, fetchSize, false)
}

// ExtendedQueryDescribed is the describe-first variant of ExtendedQuery,
// for parameter lists whose type OIDs the client cannot infer (a nil, or a
// Go value the type registry has no mapping for). It sends Parse +
// Describe(Statement) + Flush and defers Bind until the server's
// ParameterDescription arrives; the cycle then continues on the statement
// just parsed — Bind with the server-inferred OIDs, Describe(portal),
// Execute — with no second Parse and no extra round trip. The
// statement-level RowDescription (or NoData) the server sends right after
// ParameterDescription is consumed as part of the same exchange, before
// BindComplete.
func (c *Conn) ExtendedQueryDescribed(ctx context.Context, stmtName, portalName, sql string, params []any, encodeParam wire.ParamEncoder, fetchSize uint32) (*Result, error) {
	return c.extendedQuery(ctx, stmtName, portalName, sql, params, nil, encodeParam, fetchSize, true)
}

func (c *Conn) extendedQuery(ctx context.Context, stmtName, portalName, sql string, params []any, paramTypeOIDs []uint32, encodeParam wire.ParamEncoder, fetchSize uint32, describeFirst bool) (*Result, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if c.broken {
		return nil, fmt.Errorf("pgconn: connection is broken")
	}

	if err := wire.EncodeParse(c.conn, stmtName, sql, paramTypeOIDs); err != nil {
		c.Break()
		return nil, fmt.Errorf("pgconn: sending Parse: %w", err)
	}
	if describeFirst {
		if err := wire.EncodeDescribe(c.conn, wire.DescribeStatement, stmtName); err != nil {
			c.Break()
			return nil, fmt.Errorf("pgconn: sending Describe(statement): %w", err)
		}
	} else {
		if err := wire.EncodeBind(c.conn, portalName, stmtName, params, paramTypeOIDs, encodeParam); err != nil {
			// Bind never reached the wire (encoding failed locally): still need
			// to resynchronize since Parse already went out.
			return c.abortWithSync(stateBind, err)
		}
		if err := c.sendDescribeExecute(portalName, fetchSize); err != nil {
			return nil, err
		}
	}
	if err := wire.EncodeFlush(c.conn); err != nil {
		c.Break()
		return nil, fmt.Errorf("pgconn: sending Flush: %w", err)
	}

	res := &Result{}
	bound := !describeFirst
	syncSent := false

	for {
		tag, payload, err := wire.ReadMessage(c.conn)
		if err != nil {
			c.Break()
			return nil, fmt.Errorf("pgconn: reading message: %w", err)
		}
		msg, err := wire.DecodeMessage(tag, payload)
		if err != nil {
			c.Break()
			return nil, fmt.Errorf("pgconn: decoding message: %w", err)
		}

		switch tag {
		case wire.TagParseComplete, wire.TagBindComplete:
			continue

		case wire.TagParameterDesc:
			if bound {
				c.Break()
				return nil, &UnexpectedMessageError{State: stateParamDescribe.String(), Tag: tag}
			}
			// The deferred half of the cycle: Bind on the statement just
			// parsed, with the OIDs the server inferred. The statement-level
			// RowDescription/NoData answering Describe(Statement) arrives
			// next and is consumed below, before BindComplete.
			if err := wire.EncodeBind(c.conn, portalName, stmtName, params, msg.ParamOIDs, encodeParam); err != nil {
				return c.abortWithSync(stateBind, err)
			}
			if err := c.sendDescribeExecute(portalName, fetchSize); err != nil {
				return nil, err
			}
			if err := wire.EncodeFlush(c.conn); err != nil {
				c.Break()
				return nil, fmt.Errorf("pgconn: sending Flush: %w", err)
			}
			bound = true
			continue

		case wire.TagRowDescription:
			// In the describe-first flow this fires twice — once for the
			// statement description, once for the portal. The portal's wins;
			// both describe the same statement.
			res.Fields = msg.Fields
			continue

		case wire.TagNoData:
			continue

		case wire.TagDataRow:
			res.Rows = append(res.Rows, msg.Values)
			continue

		case wire.TagPortalSuspended:
			if err := wire.EncodeExecute(c.conn, portalName, fetchSize); err != nil {
				c.Break()
				return nil, fmt.Errorf("pgconn: resending Execute: %w", err)
			}
			if err := wire.EncodeFlush(c.conn); err != nil {
				c.Break()
				return nil, fmt.Errorf("pgconn: resending Flush: %w", err)
			}
			continue

		case wire.TagCommandComplete:
			res.Tag = wire.DecodeCommandTag(msg.CommandTag)
			if err := wire.EncodeSync(c.conn); err != nil {
				c.Break()
				return nil, fmt.Errorf("pgconn: sending Sync: %w", err)
			}
			syncSent = true
			continue

		case wire.TagEmptyQueryResponse:
			res.Empty = true
			if err := wire.EncodeSync(c.conn); err != nil {
				c.Break()
				return nil, fmt.Errorf("pgconn: sending Sync: %w", err)
			}
			syncSent = true
			continue

		case wire.TagParameterStatus:
			c.params[msg.ParamKey] = msg.ParamValue
			continue

		case wire.TagNoticeResponse:
			continue

		case wire.TagNotificationResp:
			if c.notify != nil {
				c.notify(Notification{BackendPID: msg.NotifyPID, Channel: msg.NotifyChannel, Payload: msg.NotifyPayload})
			}
			continue

		case wire.TagErrorResponse:
			queryErr := &Error{Fields: msg.ErrorFields}
			// Both paths send Flush, never Sync, until CommandComplete — so
			// an error observed before then (including the describe-first
			// window before Bind was ever sent) needs an explicit Sync to
			// give the drain a ReadyForQuery to land on.
			if !syncSent {
				if err := wire.EncodeSync(c.conn); err != nil {
					c.Break()
					return nil, fmt.Errorf("pgconn: sending Sync after error: %w", err)
				}
			}
			if _, err := c.drainToReady(); err != nil {
				c.Break()
				return nil, err
			}
			return nil, queryErr

		case wire.TagReadyForQuery:
			return res, nil

		default:
			c.Break()
			return nil, &UnexpectedMessageError{State: stateExecute.String(), Tag: tag}
		}
	}
}

func (c *Conn) sendDescribeExecute(portalName string, fetchSize uint32) error {
	if err := wire.EncodeDescribe(c.conn, wire.DescribePortal, portalName); err != nil {
		c.Break()
		return fmt.Errorf("pgconn: sending Describe: %w", err)
	}
	if err := wire.EncodeExecute(c.conn, portalName, fetchSize); err != nil {
		c.Break()
		return fmt.Errorf("pgconn: sending Execute: %w", err)
	}
	return nil
}

// abortWithSync sends Sync to resynchronize the protocol state after a
// local encoding failure that occurred mid-cycle (Parse already sent) and
// drains to ReadyForQuery, returning origErr wrapped with context.
func (c *Conn) abortWithSync(at exState, origErr error) (*Result, error) {
	if err := wire.EncodeSync(c.conn); err != nil {
		c.Break()
		return nil, fmt.Errorf("pgconn: sending Sync after %s error: %w", at, err)
	}
	if _, err := c.drainToReady(); err != nil {
		c.Break()
		return nil, err
	}
	return nil, fmt.Errorf("pgconn: %s: %w", at, origErr)
}

// drainToReady reads and discards messages until ReadyForQuery, updating
// ParameterStatus/BackendKeyData and forwarding notifications as it goes.
// It is always called with Sync already in flight.
func (c *Conn) drainToReady() (txStatus byte, err error) {
	for {
		tag, payload, err := wire.ReadMessage(c.conn)
		if err != nil {
			return 0, fmt.Errorf("pgconn: reading message during drain: %w", err)
		}
		msg, err := wire.DecodeMessage(tag, payload)
		if err != nil {
			return 0, fmt.Errorf("pgconn: decoding message during drain: %w", err)
		}
		switch tag {
		case wire.TagReadyForQuery:
			return msg.TxStatus, nil
		case wire.TagParameterStatus:
			c.params[msg.ParamKey] = msg.ParamValue
		case wire.TagNotificationResp:
			if c.notify != nil {
				c.notify(Notification{BackendPID: msg.NotifyPID, Channel: msg.NotifyChannel, Payload: msg.NotifyPayload})
			}
		}
		// ErrorResponse, NoticeResponse, and anything query-shaped here are
		// expected post-error noise from the aborted cycle — discarded.
	}
}
