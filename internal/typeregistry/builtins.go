package typeregistry

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// pgEpoch is PostgreSQL's reference instant for date/timestamp binary
// encoding: 2000-01-01 00:00:00 UTC.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

var builtins = map[uint32]Codec{
	BoolOID:        {Name: "bool", OID: BoolOID, Decode: decodeBool, Encode: encodeBool},
	Int2OID:        {Name: "int2", OID: Int2OID, Decode: decodeInt2, Encode: encodeInt2},
	Int4OID:        {Name: "int4", OID: Int4OID, Decode: decodeInt4, Encode: encodeInt4},
	Int8OID:        {Name: "int8", OID: Int8OID, Decode: decodeInt8, Encode: encodeInt8},
	Float4OID:      {Name: "float4", OID: Float4OID, Decode: decodeFloat4, Encode: encodeFloat4},
	Float8OID:      {Name: "float8", OID: Float8OID, Decode: decodeFloat8, Encode: encodeFloat8},
	TextOID:        {Name: "text", OID: TextOID, Decode: decodeText, Encode: encodeText},
	VarcharOID:     {Name: "varchar", OID: VarcharOID, Decode: decodeText, Encode: encodeText},
	ByteaOID:       {Name: "bytea", OID: ByteaOID, Decode: decodeBytea, Encode: encodeBytea},
	DateOID:        {Name: "date", OID: DateOID, Decode: decodeDate, Encode: encodeDate},
	TimestampOID:   {Name: "timestamp", OID: TimestampOID, Decode: decodeTimestamp, Encode: encodeTimestamp},
	TimestamptzOID: {Name: "timestamptz", OID: TimestamptzOID, Decode: decodeTimestamp, Encode: encodeTimestamp},
	UUIDOID:        {Name: "uuid", OID: UUIDOID, Decode: decodeUUID, Encode: encodeUUID},
	JSONOID:        {Name: "json", OID: JSONOID, Decode: decodeText, Encode: encodeText},
	JSONBOID:       {Name: "jsonb", OID: JSONBOID, Decode: decodeJSONB, Encode: encodeJSONB},
	NumericOID:     {Name: "numeric", OID: NumericOID, Decode: decodeNumeric, Encode: encodeNumeric},
}

func decodeBool(raw []byte) (any, error) {
	if len(raw) != 1 {
		return nil, fmt.Errorf("bool: expected 1 byte, got %d", len(raw))
	}
	return raw[0] != 0, nil
}

func encodeBool(value any) ([]byte, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("bool: expected bool, got %T", value)
	}
	if b {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func decodeInt2(raw []byte) (any, error) {
	if len(raw) != 2 {
		return nil, fmt.Errorf("int2: expected 2 bytes, got %d", len(raw))
	}
	return int16(binary.BigEndian.Uint16(raw)), nil
}

func encodeInt2(value any) ([]byte, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(int16(n)))
	return buf, nil
}

func decodeInt4(raw []byte) (any, error) {
	if len(raw) != 4 {
		return nil, fmt.Errorf("int4: expected 4 bytes, got %d", len(raw))
	}
	return int32(binary.BigEndian.Uint32(raw)), nil
}

func encodeInt4(value any) ([]byte, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(n)))
	return buf, nil
}

func decodeInt8(raw []byte) (any, error) {
	if len(raw) != 8 {
		return nil, fmt.Errorf("int8: expected 8 bytes, got %d", len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func encodeInt8(value any) ([]byte, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("expected an integer type, got %T", value)
	}
}

func decodeFloat4(raw []byte) (any, error) {
	if len(raw) != 4 {
		return nil, fmt.Errorf("float4: expected 4 bytes, got %d", len(raw))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(raw)), nil
}

func encodeFloat4(value any) ([]byte, error) {
	f, ok := value.(float32)
	if !ok {
		if f64, ok := value.(float64); ok {
			f = float32(f64)
		} else {
			return nil, fmt.Errorf("float4: expected float32, got %T", value)
		}
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, math.Float32bits(f))
	return buf, nil
}

func decodeFloat8(raw []byte) (any, error) {
	if len(raw) != 8 {
		return nil, fmt.Errorf("float8: expected 8 bytes, got %d", len(raw))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
}

func encodeFloat8(value any) ([]byte, error) {
	f, ok := value.(float64)
	if !ok {
		return nil, fmt.Errorf("float8: expected float64, got %T", value)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return buf, nil
}

func decodeText(raw []byte) (any, error) { return string(raw), nil }

func encodeText(value any) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("text: expected string, got %T", value)
	}
	return []byte(s), nil
}

func decodeBytea(raw []byte) (any, error) { return append([]byte(nil), raw...), nil }

func encodeBytea(value any) ([]byte, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("bytea: expected []byte, got %T", value)
	}
	return b, nil
}

func decodeDate(raw []byte) (any, error) {
	if len(raw) != 4 {
		return nil, fmt.Errorf("date: expected 4 bytes, got %d", len(raw))
	}
	days := int32(binary.BigEndian.Uint32(raw))
	return pgEpoch.AddDate(0, 0, int(days)), nil
}

func encodeDate(value any) ([]byte, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, fmt.Errorf("date: expected time.Time, got %T", value)
	}
	days := int32(t.UTC().Sub(pgEpoch).Hours() / 24)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(days))
	return buf, nil
}

func decodeTimestamp(raw []byte) (any, error) {
	if len(raw) != 8 {
		return nil, fmt.Errorf("timestamp: expected 8 bytes, got %d", len(raw))
	}
	micros := int64(binary.BigEndian.Uint64(raw))
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond), nil
}

func encodeTimestamp(value any) ([]byte, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, fmt.Errorf("timestamp: expected time.Time, got %T", value)
	}
	micros := t.UTC().Sub(pgEpoch).Microseconds()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(micros))
	return buf, nil
}

func decodeUUID(raw []byte) (any, error) {
	if len(raw) != 16 {
		return nil, fmt.Errorf("uuid: expected 16 bytes, got %d", len(raw))
	}
	var id [16]byte
	copy(id[:], raw)
	return uuid.UUID(id), nil
}

func encodeUUID(value any) ([]byte, error) {
	u, ok := value.(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("uuid: expected uuid.UUID, got %T", value)
	}
	return u[:], nil
}

// jsonb binary format is a 1-byte version number (always 1) followed by the
// JSON text.
func decodeJSONB(raw []byte) (any, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("jsonb: empty payload")
	}
	if raw[0] != 1 {
		return nil, fmt.Errorf("jsonb: unsupported version %d", raw[0])
	}
	return string(raw[1:]), nil
}

func encodeJSONB(value any) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("jsonb: expected string, got %T", value)
	}
	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, 1)
	return append(buf, s...), nil
}

// numericNaN and numericSign per PostgreSQL's binary numeric wire format.
const (
	numericPositive = 0x0000
	numericNegative = 0x4000
	numericNaN      = 0xC000
)

// decodeNumeric parses PostgreSQL's binary NUMERIC representation into a
// shopspring/decimal.Decimal: ndigits(int16) weight(int16) sign(uint16)
// dscale(uint16), then ndigits base-10000 digit groups (int16 each).
func decodeNumeric(raw []byte) (any, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("numeric: payload too short")
	}
	ndigits := int(binary.BigEndian.Uint16(raw[0:2]))
	weight := int16(binary.BigEndian.Uint16(raw[2:4]))
	sign := binary.BigEndian.Uint16(raw[4:6])
	dscale := int(binary.BigEndian.Uint16(raw[6:8]))

	if sign == numericNaN {
		return decimal.Decimal{}, fmt.Errorf("numeric: NaN is not representable")
	}

	if 8+ndigits*2 > len(raw) {
		return nil, fmt.Errorf("numeric: payload truncated")
	}

	// Reconstruct the unscaled big.Int from base-10000 digit groups, most
	// significant first.
	coeff := new(big.Int)
	base := big.NewInt(10000)
	for i := 0; i < ndigits; i++ {
		d := binary.BigEndian.Uint16(raw[8+i*2 : 10+i*2])
		coeff.Mul(coeff, base)
		coeff.Add(coeff, big.NewInt(int64(d)))
	}
	if sign == numericNegative {
		coeff.Neg(coeff)
	}

	// The digit groups represent weight+1 groups before the decimal point;
	// each group is worth 4 decimal digits, so the exponent of the
	// reconstructed integer relative to the true value is
	// 4*(weight+1-ndigits), then clamp to dscale fractional digits.
	exp := 4 * (int(weight) + 1 - ndigits)
	d := decimal.New(1, int32(exp))
	d = d.Mul(decimal.NewFromBigInt(coeff, 0))
	return d.Truncate(int32(dscale)), nil
}

func encodeNumeric(value any) ([]byte, error) {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return nil, fmt.Errorf("numeric: expected decimal.Decimal, got %T", value)
	}

	coeff := d.Coefficient()
	scale := int(-d.Exponent()) // number of digits after the decimal point
	sign := uint16(numericPositive)
	if coeff.Sign() < 0 {
		sign = numericNegative
		coeff = new(big.Int).Abs(coeff)
	}
	if scale < 0 {
		// A decimal with a positive exponent (trailing zeros folded into
		// the exponent, e.g. 1.2E3) has no fractional digits on the wire.
		coeff = new(big.Int).Mul(coeff, pow10(-scale))
		scale = 0
	}

	digits := coeff.String()
	intLen := len(digits) - scale
	if intLen < 0 {
		digits = zeros(-intLen) + digits
		intLen = 0
	}

	// Align the integer and fractional parts to 4-digit boundaries around
	// the decimal point so the digit string can be sliced straight into
	// base-10000 groups.
	intPart := zeros((4-intLen%4)%4) + digits[:intLen]
	fracPart := digits[intLen:] + zeros((4-scale%4)%4)
	full := intPart + fracPart

	groups := make([]uint16, 0, len(full)/4)
	for i := 0; i < len(full); i += 4 {
		var g int
		fmt.Sscanf(full[i:i+4], "%d", &g)
		groups = append(groups, uint16(g))
	}
	weight := len(intPart)/4 - 1

	// Trim trailing all-zero groups (but keep at least enough to cover
	// dscale) and leading all-zero groups, adjusting weight to match.
	for len(groups) > 0 && groups[len(groups)-1] == 0 && len(groups)*4-weight*4-4 > scale {
		groups = groups[:len(groups)-1]
	}
	for len(groups) > 0 && groups[0] == 0 {
		groups = groups[1:]
		weight--
	}

	buf := make([]byte, 8, 8+len(groups)*2)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(groups)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(int16(weight)))
	binary.BigEndian.PutUint16(buf[4:6], sign)
	binary.BigEndian.PutUint16(buf[6:8], uint16(scale))
	for _, g := range groups {
		gb := make([]byte, 2)
		binary.BigEndian.PutUint16(gb, g)
		buf = append(buf, gb...)
	}
	return buf, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func zeros(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}
