package voice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrameBytes bounds a single inbound frame.
const maxFrameBytes = 4 << 20

// Conn is the session socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens session sockets.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WebSocketDialer) Dial(ctx context.Context, u string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime websocket: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

// StreamPath is the socket path for one conversation participant.
func StreamPath(documentID, threadID, authorID string) string {
	return "/api/v1/documents/" + url.PathEscape(documentID) +
		"/threads/" + url.PathEscape(threadID) +
		"/authors/" + url.PathEscape(authorID) +
		"/stream"
}

// StreamURL joins the server base URL and StreamPath.
func StreamURL(base, documentID, threadID, authorID string) string {
	return strings.TrimRight(base, "/") + StreamPath(documentID, threadID, authorID)
}
