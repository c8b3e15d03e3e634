package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukex/processflow/pkg/collab"
	"github.com/dukex/processflow/pkg/editor"
	"github.com/dukex/processflow/pkg/models"
	"github.com/gorilla/websocket"
)

const (
	eventBuffer = 64
	closeWait   = time.Second
)

// Dial opens the collaboration connection of a flow. The returned connection's event
// stream closes when the server drops the session.
func (c *Client) Dial(ctx context.Context, flowID int64, origin string) (editor.Conn, error) {
	endpoint, err := wsURL(c.collabURL, flowID, origin)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake status %d", collab.ErrChannelDisconnected, resp.StatusCode)
		}

		return nil, fmt.Errorf("%w: %w", collab.ErrChannelDisconnected, err)
	}

	ws := &wsConn{
		conn:   conn,
		events: make(chan models.MutationEvent, eventBuffer),
		done:   make(chan struct{}),
	}

	go ws.read(c)

	return ws, nil
}

func wsURL(base string, flowID int64, origin string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid collaboration url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid collaboration url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/flows/" + strconv.FormatInt(flowID, 10) + "/ws"
	u.RawQuery = url.Values{"origin": {origin}}.Encode()

	return u.String(), nil
}

type wsConn struct {
	conn   *websocket.Conn
	events chan models.MutationEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (w *wsConn) Events() <-chan models.MutationEvent { return w.events }

func (w *wsConn) read(c *Client) {
	defer close(w.events)

	for {
		var event models.MutationEvent

		err := w.conn.ReadJSON(&event)
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Info("Collaboration server closed the connection", "code", closeErr.Code, "reason", closeErr.Text)
			}

			return
		}

		select {
		case w.events <- event:
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) Publish(ctx context.Context, event models.MutationEvent) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
	} else {
		_ = w.conn.SetWriteDeadline(time.Time{})
	}

	err := w.conn.WriteJSON(event)
	if err != nil {
		return fmt.Errorf("%w: %w", collab.ErrChannelDisconnected, err)
	}

	return nil
}

func (w *wsConn) Close() error {
	var err error

	w.closeOnce.Do(func() {
		close(w.done)

		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
		w.writeMu.Unlock()

		err = w.conn.Close()
	})

	return err
}
