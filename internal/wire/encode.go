package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// StartupParam is one key/value pair of the StartupMessage, order-preserving
// since the wire format is an ordered list, not a map.
type StartupParam struct {
	Key, Value string
}

// EncodeStartup builds a StartupMessage body (protocol version 3.0 followed
// by NUL-terminated key/value pairs, terminated by an empty key) and writes
// it untagged.
func EncodeStartup(w io.Writer, params []StartupParam) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, protoVersion3_0)
	for _, p := range params {
		body = appendCString(body, p.Key)
		body = appendCString(body, p.Value)
	}
	body = append(body, 0)
	return WriteUntagged(w, body)
}

// EncodeSSLRequest writes the fixed 8-byte SSL negotiation probe.
func EncodeSSLRequest(w io.Writer) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, sslRequestCode)
	return WriteUntagged(w, body)
}

// EncodePassword writes a PasswordMessage. payload is either the plaintext
// password or an "md5"+hex digest.
func EncodePassword(w io.Writer, payload string) error {
	return WriteMessage(w, TagPasswordMessage, appendCString(nil, payload))
}

// EncodeSASLInitialResponse writes a PasswordMessage carrying the chosen
// SASL mechanism name followed by its initial client response, per the
// SASLInitialResponse sub-message of the PostgreSQL auth exchange.
func EncodeSASLInitialResponse(w io.Writer, mechanism string, clientFirstMsg []byte) error {
	buf := appendCString(nil, mechanism)
	buf = append(buf, u32(len(clientFirstMsg))...)
	buf = append(buf, clientFirstMsg...)
	return WriteMessage(w, TagPasswordMessage, buf)
}

// EncodeSASLResponse writes a PasswordMessage carrying a raw SASL response
// payload (the SCRAM client-final-message). Unlike EncodePassword, this is
// not NUL-terminated — the SASL response is an opaque byte string whose
// length is the message's own frame length.
func EncodeSASLResponse(w io.Writer, data []byte) error {
	return WriteMessage(w, TagPasswordMessage, data)
}

// EncodeQuery writes a simple Query message.
func EncodeQuery(w io.Writer, sql string) error {
	return WriteMessage(w, TagQuery, appendCString(nil, sql))
}

// EncodeParse writes an extended-query Parse message.
func EncodeParse(w io.Writer, name, sql string, paramTypeOIDs []uint32) error {
	var buf []byte
	buf = appendCString(buf, name)
	buf = appendCString(buf, sql)
	cnt := make([]byte, 2)
	binary.BigEndian.PutUint16(cnt, uint16(len(paramTypeOIDs)))
	buf = append(buf, cnt...)
	for _, oid := range paramTypeOIDs {
		o := make([]byte, 4)
		binary.BigEndian.PutUint32(o, oid)
		buf = append(buf, o...)
	}
	return WriteMessage(w, TagParse, buf)
}

// ParamEncoder encodes one bind parameter's binary representation for a
// known type OID. Returns (nil, true, nil) for SQL NULL.
type ParamEncoder func(oid uint32, value any) (data []byte, isNull bool, err error)

// EncodeBind writes an extended-query Bind message. Every parameter and
// every result column use binary format code 1. If paramTypeOIDs contains
// an unknown OID (0), encoding fails with a CodecError — callers must have
// already resolved parameter types via DescribeStatement.
func EncodeBind(w io.Writer, portal, stmt string, params []any, paramTypeOIDs []uint32, encodeParam ParamEncoder) error {
	if len(params) != len(paramTypeOIDs) {
		return fmt.Errorf("wire: %d params but %d type OIDs", len(params), len(paramTypeOIDs))
	}
	var buf []byte
	buf = appendCString(buf, portal)
	buf = appendCString(buf, stmt)

	// parameter format codes: one per parameter, all binary (1)
	buf = append(buf, u16(len(params))...)
	for range params {
		buf = append(buf, u16(1)...)
	}

	buf = append(buf, u16(len(params))...)
	for i, p := range params {
		oid := paramTypeOIDs[i]
		if oid == 0 {
			return &CodecError{Reason: fmt.Sprintf("unknown type OID for parameter %d; statement description required", i+1)}
		}
		data, isNull, err := encodeParam(oid, p)
		if err != nil {
			return &CodecError{Reason: err.Error()}
		}
		if isNull {
			buf = append(buf, 0xff, 0xff, 0xff, 0xff) // length -1
			continue
		}
		buf = append(buf, u32(len(data))...)
		buf = append(buf, data...)
	}

	// result column format codes: a single code (1) applies to all columns
	buf = append(buf, u16(1)...)
	buf = append(buf, u16(1)...)

	return WriteMessage(w, TagBind, buf)
}

// EncodeDescribe writes an extended-query Describe message.
func EncodeDescribe(w io.Writer, target DescribeTarget, name string) error {
	buf := make([]byte, 0, len(name)+2)
	buf = append(buf, byte(target))
	buf = appendCString(buf, name)
	return WriteMessage(w, TagDescribe, buf)
}

// EncodeExecute writes an extended-query Execute message. maxRows = 0 means
// "return all rows".
func EncodeExecute(w io.Writer, portal string, maxRows uint32) error {
	buf := appendCString(nil, portal)
	buf = append(buf, u32(int(maxRows))...)
	return WriteMessage(w, TagExecute, buf)
}

// EncodeSync writes a Sync message (no payload).
func EncodeSync(w io.Writer) error { return WriteMessage(w, TagSync, nil) }

// EncodeFlush writes a Flush message (no payload).
func EncodeFlush(w io.Writer) error { return WriteMessage(w, TagFlush, nil) }

// EncodeTerminate writes a Terminate message (no payload).
func EncodeTerminate(w io.Writer) error { return WriteMessage(w, TagTerminate, nil) }

func u16(n int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(n))
	return b
}

func u32(n int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n))
	return b
}

// CodecError is returned for unknown parameter types, overflow, or decode
// failure. It is always safe to send Sync and drain the resulting error
// responses before continuing.
type CodecError struct{ Reason string }

func (e *CodecError) Error() string { return "wire: codec error: " + e.Reason }
