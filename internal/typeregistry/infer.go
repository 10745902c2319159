package typeregistry

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InferOID maps a Go bind-parameter value to the PostgreSQL type OID its
// wire representation unambiguously determines. ok is false for untyped
// nil and for any Go type not listed below, in which case the caller must run
// pgconn.Conn.ExtendedQueryDescribed to get the server's own inference
// instead.
func InferOID(value any) (oid uint32, ok bool) {
	switch value.(type) {
	case nil:
		return 0, false
	case bool:
		return BoolOID, true
	case int16:
		return Int2OID, true
	case int32:
		return Int4OID, true
	case int, int64:
		return Int8OID, true
	case float32:
		return Float4OID, true
	case float64:
		return Float8OID, true
	case string:
		return TextOID, true
	case []byte:
		return ByteaOID, true
	case uuid.UUID:
		return UUIDOID, true
	case decimal.Decimal:
		return NumericOID, true
	case time.Time:
		return TimestamptzOID, true
	default:
		return 0, false
	}
}

// RequiresDescription reports whether any value in params cannot be
// resolved to an unambiguous type OID by InferOID alone: a nil parameter,
// or a Go value of a type this registry doesn't know how to encode.
func RequiresDescription(params []any) bool {
	for _, p := range params {
		if _, ok := InferOID(p); !ok {
			return true
		}
	}
	return false
}
