package pgconn

import (
	"context"
	"fmt"
)

// DecodeValue resolves raw into a Go value using oid's registered codec. If
// oid is unknown, it triggers this connection's RefreshFunc (fetching it
// from pg_type on an out-of-band connection) once and retries; a type that
// remains unknown after refresh is returned as its raw wire bytes.
func (c *Conn) DecodeValue(ctx context.Context, oid uint32, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	codec, ok := c.registry.Lookup(c.poolName, oid)
	if !ok && c.refresh != nil {
		if err := c.refresh(ctx, c.poolName, []uint32{oid}); err != nil {
			return nil, fmt.Errorf("pgconn: refreshing type registry for OID %d: %w", oid, err)
		}
		codec, ok = c.registry.Lookup(c.poolName, oid)
	}
	if !ok {
		return append([]byte(nil), raw...), nil
	}
	return codec.Decode(raw)
}

// DecodeRow applies DecodeValue to every column of one Result row, given the
// corresponding column type OIDs from Result.Fields.
func (c *Conn) DecodeRow(ctx context.Context, columnOIDs []uint32, row [][]byte) ([]any, error) {
	out := make([]any, len(row))
	for i, raw := range row {
		v, err := c.DecodeValue(ctx, columnOIDs[i], raw)
		if err != nil {
			return nil, fmt.Errorf("pgconn: decoding column %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
