package pgconn

import (
	"context"
	"fmt"

	"github.com/bryanhughes/pgo/internal/wire"
)

// SimpleQuery runs sql through the simple query protocol, which may contain
// multiple semicolon-separated statements. Each statement's result is
// accumulated independently; an ErrorResponse mid-stream aborts all
// remaining statements (the backend sends ReadyForQuery directly, with no
// Sync needed, per the simple query protocol).
func (c *Conn) SimpleQuery(ctx context.Context, sql string) ([]*Result, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if c.broken {
		return nil, fmt.Errorf("pgconn: connection is broken")
	}
	if err := wire.EncodeQuery(c.conn, sql); err != nil {
		c.Break()
		return nil, fmt.Errorf("pgconn: sending Query: %w", err)
	}

	var results []*Result
	cur := &Result{}

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
		case wire.TagRowDescription:
			cur.Fields = msg.Fields

		case wire.TagDataRow:
			cur.Rows = append(cur.Rows, msg.Values)

		case wire.TagCommandComplete:
			cur.Tag = wire.DecodeCommandTag(msg.CommandTag)
			results = append(results, cur)
			cur = &Result{}

		case wire.TagEmptyQueryResponse:
			cur.Empty = true
			results = append(results, cur)
			cur = &Result{}

		case wire.TagParameterStatus:
			c.params[msg.ParamKey] = msg.ParamValue

		case wire.TagNoticeResponse:
			// ignored

		case wire.TagNotificationResp:
			if c.notify != nil {
				c.notify(Notification{BackendPID: msg.NotifyPID, Channel: msg.NotifyChannel, Payload: msg.NotifyPayload})
			}

		case wire.TagErrorResponse:
			queryErr := &Error{Fields: msg.ErrorFields}
			if _, err := c.drainToReady(); err != nil {
				c.Break()
				return nil, err
			}
			return results, queryErr

		case wire.TagReadyForQuery:
			return results, nil

		default:
			c.Break()
			return nil, &UnexpectedMessageError{State: "simple-query", Tag: tag}
		}
	}
}
