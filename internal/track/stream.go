package track

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"subsync/internal/transcribe"
)

// StreamDialer opens a push channel for a job's status updates.
type StreamDialer interface {
	Dial(ctx context.Context, jobID string) (StreamConn, error)
}

// StreamConn reads consecutive status updates from a push channel.
type StreamConn interface {
	ReadStatus() (transcribe.TaskStatus, error)
	Close() error
}

// WSDialer connects to the service's websocket event endpoint
// (/task/{id}/events).
type WSDialer struct {
	baseURL string
	apiKey  string
	dialer  *websocket.Dialer
}

// NewWSDialer builds a websocket dialer against the service base URL.
func NewWSDialer(baseURL, apiKey string, timeout time.Duration) *WSDialer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WSDialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

// Dial opens the event stream for a job.
func (d *WSDialer) Dial(ctx context.Context, jobID string) (StreamConn, error) {
	endpoint, err := d.streamURL(jobID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if d.apiKey != "" {
		header.Set("X-API-Key", d.apiKey)
	}

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial event stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial event stream: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

func (d *WSDialer) streamURL(jobID string) (string, error) {
	parsed, err := url.Parse(d.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse service URL: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q for event stream", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/task/" + url.PathEscape(jobID) + "/events"
	return parsed.String(), nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadStatus() (transcribe.TaskStatus, error) {
	var status transcribe.TaskStatus
	if err := c.conn.ReadJSON(&status); err != nil {
		return status, err
	}
	return status, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
