// Package wire implements PostgreSQL frontend/backend protocol 3.0 framing:
// message encoding, message decoding, and command-tag parsing. It has no
// knowledge of pooling or transactions — those live in pgpool and pgsession.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Backend/frontend message type bytes (protocol 3.0).
const (
	TagAuthentication     byte = 'R'
	TagBackendKeyData     byte = 'K'
	TagBind               byte = 'B'
	TagBindComplete       byte = '2'
	TagClose              byte = 'C' // frontend Close / backend CommandComplete share 'C'
	TagCommandComplete    byte = 'C'
	TagDataRow            byte = 'D'
	TagDescribe           byte = 'D' // frontend Describe shares 'D' with backend DataRow
	TagEmptyQueryResponse byte = 'I'
	TagErrorResponse      byte = 'E'
	TagExecute            byte = 'E' // frontend Execute shares 'E' with backend ErrorResponse
	TagFlush              byte = 'H'
	TagNoData             byte = 'n'
	TagNoticeResponse     byte = 'N'
	TagNotificationResp   byte = 'A'
	TagParameterDesc      byte = 't'
	TagParameterStatus    byte = 'S'
	TagParse              byte = 'P'
	TagParseComplete      byte = '1'
	TagPasswordMessage    byte = 'p'
	TagPortalSuspended    byte = 's'
	TagQuery              byte = 'Q'
	TagReadyForQuery      byte = 'Z'
	TagRowDescription     byte = 'T'
	TagSync               byte = 'S' // frontend Sync shares 'S' with backend ParameterStatus
	TagTerminate          byte = 'X'
)

// DescribeTarget selects what a Describe message targets.
type DescribeTarget byte

const (
	DescribeStatement DescribeTarget = 'S'
	DescribePortal    DescribeTarget = 'P'
)

const (
	protoVersionMajor = 3
	protoVersionMinor = 0
	protoVersion3_0   = protoVersionMajor<<16 | protoVersionMinor

	// sslRequestCode is the magic number sent in lieu of a protocol version
	// to request an SSL-upgraded connection.
	sslRequestCode = 1234<<16 | 5679

	maxMessageLen = 1 << 24
)

// WriteMessage frames payload with a 1-byte tag and 4-byte big-endian length
// (length includes itself, per protocol 3.0) and writes it to w.
func WriteMessage(w io.Writer, tag byte, payload []byte) error {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)+4))
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// WriteUntagged writes a length-prefixed message with no tag byte — the
// shape used only by StartupMessage and SSLRequest.
func WriteUntagged(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)+4))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one tagged message: 1-byte tag, 4-byte length (inclusive
// of itself), then the remaining payload.
func ReadMessage(r io.Reader) (tag byte, payload []byte, err error) {
	var hdr [5]byte
	if _, err = io.ReadFull(r, hdr[:1]); err != nil {
		return 0, nil, err
	}
	tag = hdr[0]
	if _, err = io.ReadFull(r, hdr[1:5]); err != nil {
		return 0, nil, err
	}
	n := int(binary.BigEndian.Uint32(hdr[1:5])) - 4
	if n < 0 || n > maxMessageLen {
		return 0, nil, fmt.Errorf("wire: invalid message length %d for tag %q", n, tag)
	}
	payload = make([]byte, n)
	if n > 0 {
		if _, err = io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return tag, payload, nil
}

// appendCString appends s followed by a NUL terminator.
func appendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// splitCString splits the leading NUL-terminated string off data, returning
// the string (without its terminator) and the remainder.
func splitCString(data []byte) (s string, rest []byte, ok bool) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), data[i+1:], true
		}
	}
	return "", data, false
}
