package pgconn

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/bryanhughes/pgo/internal/typeregistry"
	"github.com/bryanhughes/pgo/internal/wire"
)

// fakeBackend drains the startup message and returns its raw bytes so tests
// can assert on the parameters a handshake sent.
func readStartup(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [4]byte
	if _, err := readFullT(conn, lenBuf[:]); err != nil {
		t.Fatalf("reading startup length: %v", err)
	}
	n := int(binary.BigEndian.Uint32(lenBuf[:])) - 4
	body := make([]byte, n)
	if _, err := readFullT(conn, body); err != nil {
		t.Fatalf("reading startup body: %v", err)
	}
	return body
}

func readFullT(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sendAuthOK(t *testing.T, conn net.Conn) {
	t.Helper()
	if err := wire.WriteMessage(conn, wire.TagAuthentication, []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("sending AuthenticationOk: %v", err)
	}
}

func sendReadyForQuery(t *testing.T, conn net.Conn) {
	t.Helper()
	if err := wire.WriteMessage(conn, wire.TagReadyForQuery, []byte{'I'}); err != nil {
		t.Fatalf("sending ReadyForQuery: %v", err)
	}
}

func TestOpenTrustAuth(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		body := readStartup(t, server)
		if !containsSubstring(body, "app-under-test") {
			t.Errorf("startup message missing application_name, got %q", body)
		}
		sendAuthOK(t, server)
		_ = wire.WriteMessage(server, wire.TagParameterStatus, paramStatusPayload("server_version", "16.1"))
		_ = wire.WriteMessage(server, wire.TagBackendKeyData, backendKeyPayload(42, 1337))
		sendReadyForQuery(t, server)
	}()

	c := &Conn{conn: client, opts: Options{User: "tester", Database: "testdb", ApplicationName: "app-under-test"}, params: map[string]string{}}
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	<-done

	if c.ServerParams()["server_version"] != "16.1" {
		t.Errorf("server_version = %q, want 16.1", c.ServerParams()["server_version"])
	}
	if c.BackendPID() != 42 || c.BackendKey() != 1337 {
		t.Errorf("BackendPID/Key = %d/%d, want 42/1337", c.BackendPID(), c.BackendKey())
	}
}

func TestHandshakeOnAuthHookReportsMethod(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		readStartup(t, server)
		sendAuthOK(t, server)
		sendReadyForQuery(t, server)
	}()

	var reported string
	c := &Conn{conn: client, opts: Options{User: "tester", Database: "testdb", OnAuth: func(method string) {
		reported = method
	}}, params: map[string]string{}}
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if reported != "trust" {
		t.Errorf("OnAuth method = %q, want trust", reported)
	}
}

func TestHandshakeOnAuthHookReportsCleartext(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		readStartup(t, server)
		_ = wire.WriteMessage(server, wire.TagAuthentication, []byte{0, 0, 0, 3})
		_, _, _ = wire.ReadMessage(server)
		sendAuthOK(t, server)
		sendReadyForQuery(t, server)
	}()

	var reported string
	c := &Conn{conn: client, opts: Options{User: "tester", Password: "secret", OnAuth: func(method string) {
		reported = method
	}}, params: map[string]string{}}
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if reported != "cleartext" {
		t.Errorf("OnAuth method = %q, want cleartext", reported)
	}
}

func TestHandshakeCleartextPassword(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		readStartup(t, server)
		_ = wire.WriteMessage(server, wire.TagAuthentication, []byte{0, 0, 0, 3})
		var tag byte
		var payload []byte
		var err error
		tag, payload, err = wire.ReadMessage(server)
		if err != nil || tag != wire.TagPasswordMessage {
			t.Errorf("expected PasswordMessage, got tag %q err %v", tag, err)
			return
		}
		pw, _, _ := splitCStringT(payload)
		if pw != "secret" {
			t.Errorf("cleartext password = %q, want secret", pw)
		}
		sendAuthOK(t, server)
		sendReadyForQuery(t, server)
	}()

	c := &Conn{conn: client, opts: Options{User: "tester", Password: "secret"}, params: map[string]string{}}
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
}

func TestHandshakeMD5Password(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	salt := []byte{1, 2, 3, 4}
	go func() {
		readStartup(t, server)
		payload := append([]byte{0, 0, 0, 5}, salt...)
		_ = wire.WriteMessage(server, wire.TagAuthentication, payload)
		_, resp, err := wire.ReadMessage(server)
		if err != nil {
			t.Errorf("reading password message: %v", err)
			return
		}
		got, _, _ := splitCStringT(resp)
		want := md5Password("tester", "secret", salt)
		if got != want {
			t.Errorf("md5 password = %q, want %q", got, want)
		}
		sendAuthOK(t, server)
		sendReadyForQuery(t, server)
	}()

	c := &Conn{conn: client, opts: Options{User: "tester", Password: "secret"}, params: map[string]string{}}
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
}

func TestHandshakeErrorResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		readStartup(t, server)
		fields := map[byte]string{'S': "FATAL", 'C': "28P01", 'M': "password authentication failed"}
		_ = wire.WriteMessage(server, wire.TagErrorResponse, encodeFieldsT(fields))
	}()

	c := &Conn{conn: client, opts: Options{User: "tester", Password: "wrong"}, params: map[string]string{}}
	err := c.handshake()
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	pgErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if pgErr.Code() != "28P01" {
		t.Errorf("Code() = %q, want 28P01", pgErr.Code())
	}
}

func TestHandshakeUnimplementedAuth(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		readStartup(t, server)
		_ = wire.WriteMessage(server, wire.TagAuthentication, []byte{0, 0, 0, 2}) // KerberosV5
	}()

	c := &Conn{conn: client, opts: Options{User: "tester"}, params: map[string]string{}}
	err := c.handshake()
	if _, ok := err.(*UnimplementedError); !ok {
		t.Fatalf("expected *UnimplementedError, got %T: %v", err, err)
	}
}

func TestConnClosesSocketOnBreak(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := &Conn{conn: client, params: map[string]string{}}
	c.Break()
	if !c.Broken() {
		t.Fatal("expected Broken() true after Break")
	}
	if _, err := client.Write([]byte("x")); err == nil {
		t.Error("expected write on broken conn to fail")
	}
}

func TestOpenDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := Open(ctx, "p", Options{Host: "127.0.0.1", Port: 1, DialTimeout: 100 * time.Millisecond}, typeregistry.New(), nil)
	if err == nil {
		t.Fatal("expected dial failure against a closed port")
	}
}

func paramStatusPayload(key, val string) []byte {
	buf := append([]byte(key), 0)
	buf = append(buf, val...)
	return append(buf, 0)
}

func backendKeyPayload(pid, key uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[:4], pid)
	binary.BigEndian.PutUint32(buf[4:], key)
	return buf
}

func encodeFieldsT(fields map[byte]string) []byte {
	var buf []byte
	for k, v := range fields {
		buf = append(buf, k)
		buf = append(buf, v...)
		buf = append(buf, 0)
	}
	return append(buf, 0)
}

func splitCStringT(data []byte) (string, []byte, bool) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), data[i+1:], true
		}
	}
	return "", data, false
}

func containsSubstring(haystack []byte, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack []byte, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == needle {
			return i
		}
	}
	return -1
}
