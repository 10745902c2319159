// Package typeregistry maps PostgreSQL type OIDs to codec descriptors,
// keyed per pool name so that two pools against different servers (or
// different extension sets) never share stale OID assignments.
//
// Reads are lock-free: each pool's table is an atomic snapshot published in
// full on refresh, mirroring the router snapshot-swap pattern. Writes only
// happen through Publish, called from a refresh that runs on a dedicated
// out-of-band connection (see pgpool.Pool.RefreshTypes) so the in-flight
// extended-query protocol
// stream of any other connection is never touched.
package typeregistry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgtype"
)

// Codec decodes a single column's raw wire bytes (binary format) into a Go
// value, and encodes a Go value into wire bytes for use as a bind parameter.
type Codec struct {
	Name   string
	OID    uint32
	Decode func(raw []byte) (any, error)
	Encode func(value any) ([]byte, error)
}

type table map[uint32]Codec

// Registry holds one OID->Codec table per pool name.
type Registry struct {
	mu     sync.Mutex   // serializes Refresh writers; reads never take it
	tables atomic.Value // map[string]table
}

// New returns a Registry pre-populated with the built-in PostgreSQL type
// codecs (see builtins.go) shared by every pool name until a Refresh
// publishes pool-specific additions (extension types, custom enums, etc).
func New() *Registry {
	r := &Registry{}
	r.tables.Store(map[string]table{})
	return r
}

// Lookup returns the codec for oid from the process-wide built-in table,
// falling back to poolName's published table. ok is false if no codec is known; the
// caller should still serve the value as raw bytes.
func (r *Registry) Lookup(poolName string, oid uint32) (Codec, bool) {
	if c, ok := builtins[oid]; ok {
		return c, true
	}
	tables := r.tables.Load().(map[string]table)
	t, ok := tables[poolName]
	if !ok {
		return Codec{}, false
	}
	c, ok := t[oid]
	return c, ok
}

// Publish atomically replaces the codec table for poolName with the merge of
// its previous contents and additions. Called by Refresh once a pg_type scan
// completes; never partial.
func (r *Registry) Publish(poolName string, additions map[uint32]Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.tables.Load().(map[string]table)
	next := make(map[string]table, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	merged := make(table, len(next[poolName])+len(additions))
	for k, v := range next[poolName] {
		merged[k] = v
	}
	for oid, c := range additions {
		merged[oid] = c
	}
	next[poolName] = merged
	r.tables.Store(next)
}

// MissingOIDs filters oids down to those Lookup cannot currently resolve for
// poolName — the set a Refresh call needs to fetch.
func (r *Registry) MissingOIDs(poolName string, oids []uint32) []uint32 {
	var missing []uint32
	seen := make(map[uint32]bool)
	for _, oid := range oids {
		if seen[oid] {
			continue
		}
		seen[oid] = true
		if _, ok := r.Lookup(poolName, oid); !ok {
			missing = append(missing, oid)
		}
	}
	return missing
}

// RawCodec builds a passthrough Codec for a type this registry has no
// native decoder for: Decode returns the wire bytes unmodified and Encode
// only accepts []byte, so callers can still round-trip values they don't
// need to interpret.
func RawCodec(name string, oid uint32) Codec {
	return Codec{
		Name: name,
		OID:  oid,
		Decode: func(raw []byte) (any, error) {
			return append([]byte(nil), raw...), nil
		},
		Encode: func(value any) ([]byte, error) {
			b, ok := value.([]byte)
			if !ok {
				return nil, fmt.Errorf("typeregistry: %s has no native encoder; pass []byte for raw passthrough", name)
			}
			return b, nil
		},
	}
}

// pgtypeOID re-exports the subset of github.com/jackc/pgx/v5/pgtype's OID
// constants this registry's built-in table dispatches on, so callers building
// bind parameters can name types without duplicating PostgreSQL's catalog
// numbers in this module.
var (
	BoolOID        = uint32(pgtype.BoolOID)
	Int2OID        = uint32(pgtype.Int2OID)
	Int4OID        = uint32(pgtype.Int4OID)
	Int8OID        = uint32(pgtype.Int8OID)
	Float4OID      = uint32(pgtype.Float4OID)
	Float8OID      = uint32(pgtype.Float8OID)
	TextOID        = uint32(pgtype.TextOID)
	VarcharOID     = uint32(pgtype.VarcharOID)
	ByteaOID       = uint32(pgtype.ByteaOID)
	DateOID        = uint32(pgtype.DateOID)
	TimestampOID   = uint32(pgtype.TimestampOID)
	TimestamptzOID = uint32(pgtype.TimestamptzOID)
	UUIDOID        = uint32(pgtype.UUIDOID)
	JSONOID        = uint32(pgtype.JSONOID)
	JSONBOID       = uint32(pgtype.JSONBOID)
	NumericOID     = uint32(pgtype.NumericOID)
)
