package pgconn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/bryanhughes/pgo/internal/wire"
)

// scramSHA256 performs the SASL SCRAM-SHA-256 exchange (RFC 5802/7677)
// against a backend that has just sent AuthenticationSASL. initialData is
// the mechanism-name list carried on that message.
func scramSHA256(conn net.Conn, user, password string, initialData []byte) error {
	mechanisms := parseSASLMechanisms(initialData)
	if !containsMechanism(mechanisms, "SCRAM-SHA-256") {
		return fmt.Errorf("server does not offer SCRAM-SHA-256, offered: %v", mechanisms)
	}

	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return fmt.Errorf("generating client nonce: %w", err)
	}
	clientNonce := base64.StdEncoding.EncodeToString(nonceBytes)

	const gs2Header = "n,,"
	clientFirstBare := fmt.Sprintf("n=%s,r=%s", saslEscapeUsername(user), clientNonce)

	if err := wire.EncodeSASLInitialResponse(conn, "SCRAM-SHA-256", []byte(gs2Header+clientFirstBare)); err != nil {
		return fmt.Errorf("sending SASLInitialResponse: %w", err)
	}

	serverFirstMsg, err := readSASLContinue(conn)
	if err != nil {
		return fmt.Errorf("reading server-first-message: %w", err)
	}

	serverNonce, salt, iterations, err := parseServerFirst(string(serverFirstMsg))
	if err != nil {
		return fmt.Errorf("parsing server-first-message: %w", err)
	}
	if !strings.HasPrefix(serverNonce, clientNonce) {
		return fmt.Errorf("server nonce does not extend client nonce")
	}

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)

	authMessage := clientFirstBare + "," + string(serverFirstMsg) + "," + clientFinalWithoutProof
	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	clientFinalMsg := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	if err := wire.EncodeSASLResponse(conn, []byte(clientFinalMsg)); err != nil {
		return fmt.Errorf("sending client-final-message: %w", err)
	}

	serverFinalMsg, err := readSASLFinal(conn)
	if err != nil {
		return fmt.Errorf("reading server-final-message: %w", err)
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	expectedServerSig := hmacSHA256(serverKey, []byte(authMessage))
	expectedServerFinal := "v=" + base64.StdEncoding.EncodeToString(expectedServerSig)
	if string(serverFinalMsg) != expectedServerFinal {
		return fmt.Errorf("server signature verification failed")
	}

	return nil
}

// readSASLContinue reads the next message expecting AuthenticationSASLContinue,
// surfacing ErrorResponse as *Error and any other message as *UnexpectedMessageError.
func readSASLContinue(conn net.Conn) ([]byte, error) {
	return readAuthSubMessage(conn, wire.AuthSASLContinue)
}

func readSASLFinal(conn net.Conn) ([]byte, error) {
	return readAuthSubMessage(conn, wire.AuthSASLFinal)
}

func readAuthSubMessage(conn io.Reader, want wire.AuthKind) ([]byte, error) {
	tag, payload, err := wire.ReadMessage(conn)
	if err != nil {
		return nil, err
	}
	msg, err := wire.DecodeMessage(tag, payload)
	if err != nil {
		return nil, err
	}
	switch tag {
	case wire.TagAuthentication:
		if msg.Auth != want {
			return nil, fmt.Errorf("unexpected authentication sub-message (want %v, got %v)", want, msg.Auth)
		}
		return msg.AuthData, nil
	case wire.TagErrorResponse:
		return nil, &Error{Fields: msg.ErrorFields}
	default:
		return nil, &UnexpectedMessageError{State: "scram", Tag: tag}
	}
}

func parseSASLMechanisms(data []byte) []string {
	var mechs []string
	for len(data) > 0 {
		idx := 0
		for idx < len(data) && data[idx] != 0 {
			idx++
		}
		if idx > 0 {
			mechs = append(mechs, string(data[:idx]))
		}
		if idx >= len(data) {
			break
		}
		data = data[idx+1:]
	}
	return mechs
}

func containsMechanism(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			if _, err := fmt.Sscanf(part[2:], "%d", &iterations); err != nil {
				return "", nil, 0, fmt.Errorf("parsing iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

// saslEscapeUsername replaces "=" with "=3D" and "," with "=2C" per RFC 5802 §5.1.
func saslEscapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}
