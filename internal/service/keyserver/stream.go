package keyserver

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timloh-professional/origin/internal/model"
)

// Stream is the live update channel: individual log entries as they are
// appended, keyed by the subscribing wallet (not per room).
type Stream struct {
	conn *websocket.Conn
}

// Subscribe opens the websocket at /message-events/<wallet>.
func (c *Client) Subscribe(ctx context.Context, wallet string) (*Stream, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/message-events/" + url.PathEscape(wallet)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &Stream{conn: conn}, nil
}

// Read blocks for the next log entry. Frames that do not parse are
// reported as errors alongside a nil entry; the connection stays usable.
func (s *Stream) Read() (*model.LogEntry, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var entry model.LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, &FrameError{err: err}
	}
	return &entry, nil
}

func (s *Stream) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// NormalClose reports whether the stream ended with close code 1000; any
// other termination triggers the reconnection policy.
func NormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// FrameError marks a frame that failed to parse, distinct from a dead
// connection.
type FrameError struct {
	err error
}

func (e *FrameError) Error() string { return "bad stream frame: " + e.err.Error() }
func (e *FrameError) Unwrap() error { return e.err }
