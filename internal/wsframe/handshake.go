package wsframe

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
)

const handshakeGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ErrMissingKey is returned when the upgrade request has no Sec-WebSocket-Key.
var ErrMissingKey = errors.New("wsframe: missing Sec-WebSocket-Key")

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + handshakeGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HandshakeResponse returns the full 101 response for a client key.
func HandshakeResponse(clientKey string) ([]byte, error) {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return nil, ErrMissingKey
	}
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: " + AcceptKey(clientKey) + "\r\n")
	b.WriteString("\r\n")
	return []byte(b.String()), nil
}
