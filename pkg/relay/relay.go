// Package relay is the driver side of live ingestion: it streams raw samples
// and events of one session to a server over a websocket and collects the
// server's replies.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
)

const (
	mtSample = "sample"
	mtEvent  = "event"
	mtAck    = "ack"
	mtError  = "error"

	writeWait = 10 * time.Second
)

type frame struct {
	MessageType string `json:"type"`
	Seq         int64  `json:"seq"`
	Body        any    `json:"body"`
}

type replyFrame struct {
	MessageType string          `json:"type"`
	Body        json.RawMessage `json:"body"`
}

// Reply is the server's answer to one frame. Kind is empty for an ack.
type Reply struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r Reply) OK() bool {
	return r.Kind == ""
}

type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	seq     int64

	replies  chan Reply
	readErr  error
	readDone chan struct{}

	acked    atomic.Int64
	rejected atomic.Int64
}

// IngestURL turns the server base URL into the session's websocket endpoint.
func IngestURL(base, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", errors.Wrapf(err, "invalid server url %q", base)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/sessions/" + url.PathEscape(sessionID) + "/ingest"
	return u.String(), nil
}

// Dial connects to the ingest endpoint of sessionID. identity is sent as the
// verified caller identity and becomes the default driver id.
func Dial(ctx context.Context, base, sessionID, identity string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := IngestURL(base, sessionID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if identity != "" {
		header.Set("X-Identity", identity)
	}

	dealer := &websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	conn, resp, err := dealer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "connecting to %s (%s)", u, resp.Status)
		}
		return nil, errors.Wrapf(err, "connecting to %s", u)
	}
	logger.Info("connected", "url", u, "session", sessionID)

	c := &Client{
		conn:     conn,
		logger:   logger.With("component", "relay", "session", sessionID),
		replies:  make(chan Reply, 256),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.replies)
	for {
		var m replyFrame
		if err := c.conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.readErr = err
			}
			return
		}
		var r Reply
		if err := json.Unmarshal(m.Body, &r); err != nil {
			c.logger.Warn("unreadable reply", "type", m.MessageType, "err", err)
			continue
		}
		switch m.MessageType {
		case mtAck:
			c.acked.Add(1)
		case mtError:
			c.rejected.Add(1)
			c.logger.Warn("frame rejected", "seq", r.Seq, "kind", r.Kind, "message", r.Message)
		default:
			continue
		}
		select {
		case c.replies <- r:
		default:
			// nobody is draining replies; counters still track them
		}
	}
}

// Replies yields server answers until the connection closes. Replies that are
// not drained are counted but discarded.
func (c *Client) Replies() <-chan Reply {
	return c.replies
}

func (c *Client) send(messageType string, body any) (int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.seq++
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame{MessageType: messageType, Seq: c.seq, Body: body}); err != nil {
		return c.seq, errors.Wrap(err, "sending frame")
	}
	return c.seq, nil
}

// SendSample sends one raw sample in any supported dialect.
func (c *Client) SendSample(raw map[string]any) (int64, error) {
	return c.send(mtSample, raw)
}

func (c *Client) SendEvent(e model.SessionEvent) (int64, error) {
	return c.send(mtEvent, e)
}

// Sent returns the number of frames written so far.
func (c *Client) Sent() int64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.seq
}

func (c *Client) Acked() int64 {
	return c.acked.Load()
}

func (c *Client) Rejected() int64 {
	return c.rejected.Load()
}

// Close says goodbye and waits for the server to close its side, at most
// until ctx is done.
func (c *Client) Close(ctx context.Context) error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	select {
	case <-c.readDone:
	case <-ctx.Done():
	}
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Err reports why the read side stopped, nil after a clean close.
func (c *Client) Err() error {
	<-c.readDone
	return c.readErr
}
