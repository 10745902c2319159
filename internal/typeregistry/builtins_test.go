package typeregistry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// roundTrip pushes value through the codec's Encode and back through Decode.
func roundTrip(t *testing.T, oid uint32, value any) any {
	t.Helper()
	c, ok := builtins[oid]
	if !ok {
		t.Fatalf("no builtin codec for OID %d", oid)
	}
	raw, err := c.Encode(value)
	if err != nil {
		t.Fatalf("%s: Encode(%v): %v", c.Name, value, err)
	}
	decoded, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("%s: Decode: %v", c.Name, err)
	}
	return decoded
}

func TestScalarCodecRoundTrips(t *testing.T) {
	tests := []struct {
		name string
		oid  uint32
		in   any
		want any
	}{
		{"bool true", BoolOID, true, true},
		{"bool false", BoolOID, false, false},
		{"int2", Int2OID, int16(-7), int16(-7)},
		{"int4", Int4OID, int32(123456), int32(123456)},
		{"int8", Int8OID, int64(-1 << 40), int64(-1 << 40)},
		{"int promotes", Int8OID, int(42), int64(42)},
		{"float4", Float4OID, float32(1.5), float32(1.5)},
		{"float8", Float8OID, float64(-2.25), float64(-2.25)},
		{"text", TextOID, "héllo", "héllo"},
		{"varchar", VarcharOID, "x", "x"},
		{"json", JSONOID, `{"a":1}`, `{"a":1}`},
		{"jsonb", JSONBOID, `{"b":2}`, `{"b":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roundTrip(t, tt.oid, tt.in); got != tt.want {
				t.Errorf("round trip = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestByteaRoundTrip(t *testing.T) {
	in := []byte{0x00, 0xff, 0x10}
	got := roundTrip(t, ByteaOID, in).([]byte)
	if string(got) != string(in) {
		t.Fatalf("bytea round trip = %v, want %v", got, in)
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	id := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")
	got := roundTrip(t, UUIDOID, id).(uuid.UUID)
	if got != id {
		t.Fatalf("uuid round trip = %s, want %s", got, id)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	in := time.Date(2023, 5, 1, 12, 30, 45, 123456000, time.UTC)
	got := roundTrip(t, TimestamptzOID, in).(time.Time)
	if !got.Equal(in) {
		t.Fatalf("timestamp round trip = %s, want %s", got, in)
	}
}

func TestDateRoundTrip(t *testing.T) {
	for _, in := range []time.Time{
		time.Date(2021, 3, 14, 0, 0, 0, 0, time.UTC),
		time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC), // before the 2000 epoch
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		got := roundTrip(t, DateOID, in).(time.Time)
		if !got.Equal(in) {
			t.Fatalf("date round trip = %s, want %s", got, in)
		}
	}
}

func TestJSONBDecodeRejectsUnknownVersion(t *testing.T) {
	c := builtins[JSONBOID]
	if _, err := c.Decode([]byte{2, '{', '}'}); err == nil {
		t.Fatal("jsonb version 2 should be rejected")
	}
}

func TestNumericRoundTrips(t *testing.T) {
	for _, s := range []string{"0", "42", "-7", "123.45", "-123.45", "0.005", "99999999.9999", "10000"} {
		in := decimal.RequireFromString(s)
		got := roundTrip(t, NumericOID, in).(decimal.Decimal)
		if !got.Equal(in) {
			t.Fatalf("numeric round trip of %s = %s", s, got)
		}
	}
}

func TestNumericDecodeWireFormat(t *testing.T) {
	// 123.45 on the wire: ndigits=2 weight=0 sign=+ dscale=2, groups [123 4500].
	raw := []byte{
		0x00, 0x02, // ndigits
		0x00, 0x00, // weight
		0x00, 0x00, // sign
		0x00, 0x02, // dscale
		0x00, 0x7b, // 123
		0x11, 0x94, // 4500
	}
	v, err := decodeNumeric(raw)
	if err != nil {
		t.Fatalf("decodeNumeric: %v", err)
	}
	if !v.(decimal.Decimal).Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("decodeNumeric = %s, want 123.45", v)
	}
}

func TestNumericDecodeRejectsNaN(t *testing.T) {
	raw := []byte{
		0x00, 0x00, // ndigits
		0x00, 0x00, // weight
		0xc0, 0x00, // sign = NaN
		0x00, 0x00, // dscale
	}
	if _, err := decodeNumeric(raw); err == nil {
		t.Fatal("NaN should be rejected")
	}
}

func TestEncodeTypeMismatch(t *testing.T) {
	if _, err := builtins[Int4OID].Encode("nope"); err == nil {
		t.Error("int4 should reject a string")
	}
	if _, err := builtins[TextOID].Encode(42); err == nil {
		t.Error("text should reject an int")
	}
	if _, err := builtins[UUIDOID].Encode("f47ac10b-58cc-4372-a567-0e02b2c3d479"); err == nil {
		t.Error("uuid should reject a string form; values must be uuid.UUID")
	}
}
