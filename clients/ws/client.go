// Package ws is a WebSocket client for the storybook gateway.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/dohr-michael/storybook/internal/events"
	wsprotocol "github.com/dohr-michael/storybook/internal/gateway/ws"
)

// Client is a WebSocket client for the storybook gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint (ws://host:port/api/ws).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	// run results can be large
	conn.SetReadLimit(4 << 20)

	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{conn: conn, ctx: clientCtx, cancel: cancel}, nil
}

// Send writes a request frame and returns its id.
func (c *Client) Send(method wsprotocol.Method, params any) (string, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     fmt.Sprintf("req-%d", seq),
		Method: string(method),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("marshal params: %w", err)
		}
		frame.Params = raw
	}

	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return "", err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return "", err
	}
	return frame.ID, nil
}

// Call sends a request and reads frames until its response arrives. Event
// frames read meanwhile go to onEvent when it is non-nil.
func (c *Client) Call(method wsprotocol.Method, params any, onEvent func(events.Event)) (json.RawMessage, error) {
	id, err := c.Send(method, params)
	if err != nil {
		return nil, err
	}
	for {
		f, err := c.ReadFrame()
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case wsprotocol.FrameTypeEvent:
			if onEvent == nil {
				continue
			}
			if e, err := DecodeEvent(f); err == nil {
				onEvent(e)
			}
		case wsprotocol.FrameTypeResponse:
			if f.ID != id {
				continue
			}
			if f.OK == nil || !*f.OK {
				return nil, errors.New(f.Error)
			}
			return f.Payload, nil
		}
	}
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// DecodeEvent extracts the bus event carried by an event frame.
func DecodeEvent(f wsprotocol.Frame) (events.Event, error) {
	var e events.Event
	if f.Type != wsprotocol.FrameTypeEvent {
		return e, fmt.Errorf("not an event frame: %s", f.Type)
	}
	if err := json.Unmarshal(f.Payload, &e); err != nil {
		return e, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
