package pgpool

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bryanhughes/pgo/internal/pgconn"
	"github.com/bryanhughes/pgo/internal/typeregistry"
)

// RefreshTypes resolves OIDs the type registry doesn't recognize by
// querying pg_type on a dedicated, non-pooled connection — never one
// borrowed from the pool itself, since a connection in the middle of an
// extended-query cycle can't also run this lookup without corrupting its
// protocol state. Unrecognized types are registered as raw-bytes passthrough
// codecs: callers still get the value, just undecoded.
func (p *Pool) RefreshTypes(ctx context.Context, poolName string, missingOIDs []uint32) error {
	if len(missingOIDs) == 0 {
		return nil
	}

	conn, err := pgconn.Open(ctx, poolName, pgconn.Options{
		Host: p.opts.Host, Port: p.opts.Port,
		User: p.opts.User, Password: p.opts.Password, Database: p.opts.Database,
		ApplicationName: p.opts.ApplicationName + "-typeload",
		SSLMode:         p.opts.SSLMode, TLSConfig: p.opts.TLSConfig, DialTimeout: p.opts.DialTimeout,
	}, p.reg, nil)
	if err != nil {
		return fmt.Errorf("pgpool: opening out-of-band type-refresh connection: %w", err)
	}
	defer conn.Close()

	ids := make([]string, len(missingOIDs))
	for i, oid := range missingOIDs {
		ids[i] = strconv.FormatUint(uint64(oid), 10)
	}
	sql := fmt.Sprintf("SELECT oid, typname FROM pg_type WHERE oid IN (%s)", strings.Join(ids, ","))

	results, err := conn.SimpleQuery(ctx, sql)
	if err != nil {
		return fmt.Errorf("pgpool: querying pg_type: %w", err)
	}

	additions := make(map[uint32]typeregistry.Codec)
	for _, res := range results {
		for _, row := range res.Rows {
			if len(row) != 2 {
				continue
			}
			oid, err := strconv.ParseUint(string(row[0]), 10, 32)
			if err != nil {
				continue
			}
			name := string(row[1])
			additions[uint32(oid)] = typeregistry.RawCodec(name, uint32(oid))
		}
	}
	p.reg.Publish(poolName, additions)
	return nil
}
