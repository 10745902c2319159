package pgo

import (
	"context"
	"fmt"

	"github.com/bryanhughes/pgo/internal/pgconn"
	"github.com/bryanhughes/pgo/internal/pgpool"
	"github.com/bryanhughes/pgo/internal/pgsession"
	"github.com/bryanhughes/pgo/internal/typeregistry"
	"github.com/bryanhughes/pgo/internal/wire"
)

// Query runs sql against the named pool (WithPool, default "default"),
// using the extended-query protocol when args is non-empty and the simple
// query protocol otherwise. If ctx carries an ambient connection bound by
// Transaction/WithConn for this pool, it runs there instead of checking a
// new connection out; querying a different pool than the ambient
// transaction's fails with InOtherPoolTransactionError without touching
// any connection.
func Query(ctx context.Context, sql string, args []any, opts ...QueryOption) (Result, error) {
	cfg := newQueryConfig()
	for _, o := range opts {
		o(cfg)
	}

	p, err := mustPool(cfg.pool)
	if err != nil {
		return Result{}, err
	}

	if ambient, bound, err := pgsession.ResolveConn(ctx, cfg.pool); err != nil {
		return Result{}, err
	} else if bound {
		return runQuery(ctx, ambient, p, sql, args, cfg)
	}

	ref, err := p.CheckoutOpts(ctx, cfg.queue)
	if err != nil {
		return Result{}, err
	}

	res, err := runQuery(ctx, ref.Conn(), p, sql, args, cfg)
	if ref.Conn().Broken() {
		ref.Break()
	} else {
		ref.Checkin()
	}
	res.QueueTime = ref.QueueTime()
	return res, err
}

func runQuery(ctx context.Context, conn *pgconn.Conn, p *pgpool.Pool, sql string, args []any, cfg *queryConfig) (Result, error) {
	if len(args) == 0 {
		return runSimpleQuery(ctx, conn, sql, cfg)
	}
	return runExtendedQuery(ctx, conn, p, sql, args, cfg)
}

func runSimpleQuery(ctx context.Context, conn *pgconn.Conn, sql string, cfg *queryConfig) (Result, error) {
	results, err := conn.SimpleQuery(ctx, sql)
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, nil
	}
	// Multiple semicolon-separated statements each produce their own
	// CommandComplete; a single Result can only carry one, so the last
	// statement's outcome wins — the same convention lib/pq and most
	// simple-query-driven clients use.
	return buildResult(ctx, conn, results[len(results)-1], cfg)
}

func runExtendedQuery(ctx context.Context, conn *pgconn.Conn, p *pgpool.Pool, sql string, args []any, cfg *queryConfig) (Result, error) {
	reg := p.Registry()
	poolName := conn.PoolName()

	encodeParam := func(oid uint32, value any) ([]byte, bool, error) {
		if value == nil {
			return nil, true, nil
		}
		codec, ok := reg.Lookup(poolName, oid)
		if !ok {
			return nil, false, &wire.CodecError{Reason: fmt.Sprintf("no encoder registered for OID %d", oid)}
		}
		data, err := codec.Encode(value)
		if err != nil {
			return nil, false, err
		}
		return data, false, nil
	}

	// Ambiguous parameters (a nil, or a Go type with no OID mapping) defer
	// Bind until the server's ParameterDescription arrives, all within one
	// exchange on one parsed statement.
	if typeregistry.RequiresDescription(args) {
		res, err := conn.ExtendedQueryDescribed(ctx, "", "", sql, args, encodeParam, 0)
		if err != nil {
			return Result{}, err
		}
		return buildResult(ctx, conn, res, cfg)
	}

	paramOIDs := make([]uint32, len(args))
	for i, a := range args {
		oid, _ := typeregistry.InferOID(a)
		paramOIDs[i] = oid
	}
	res, err := conn.ExtendedQuery(ctx, "", "", sql, args, paramOIDs, encodeParam, 0)
	if err != nil {
		return Result{}, err
	}
	return buildResult(ctx, conn, res, cfg)
}

func buildResult(ctx context.Context, conn *pgconn.Conn, r *pgconn.Result, cfg *queryConfig) (Result, error) {
	out := Result{Command: r.Tag, Fields: r.Fields}

	oids := make([]uint32, len(r.Fields))
	for i, f := range r.Fields {
		oids[i] = f.TypeOID
	}

	if cfg.returnRowsMaps {
		out.RowMaps = make([]map[string]any, 0, len(r.Rows))
		for _, raw := range r.Rows {
			decoded, err := conn.DecodeRow(ctx, oids, raw)
			if err != nil {
				return Result{}, err
			}
			m := make(map[string]any, len(decoded))
			for i, v := range decoded {
				if i < len(r.Fields) {
					m[r.Fields[i].Name] = v
				}
			}
			out.RowMaps = append(out.RowMaps, m)
		}
		out.NumRows = len(out.RowMaps)
		return out, nil
	}

	out.Rows = make([]Row, 0, len(r.Rows))
	for _, raw := range r.Rows {
		decoded, err := conn.DecodeRow(ctx, oids, raw)
		if err != nil {
			return Result{}, err
		}
		out.Rows = append(out.Rows, Row(decoded))
	}
	out.NumRows = len(out.Rows)
	return out, nil
}
