package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	ErrDaemonNotRunning = errors.New("daemon is not running")
	ErrUnexpectedReply  = errors.New("unexpected reply from daemon")
)

// Client talks to a running daemon. Calls are serialized.
type Client struct {
	mu        sync.Mutex
	conn      net.Conn
	timeout   time.Duration
	nextReqID atomic.Uint32
}

// Dial connects to the daemon socket at path.
func Dial(path string, timeout time.Duration) (*Client, error) {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, ErrDaemonNotRunning
		}
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends req as msgType and decodes the reply into resp. The reply must
// have type want or be an error message.
func (c *Client) Call(ctx context.Context, msgType, want MessageType, req, resp any) error {
	var payload []byte
	if req != nil {
		var err error
		if payload, err = Encode(req); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	id := c.nextReqID.Add(1)
	if err := NewMessage(msgType, id, payload).Write(c.conn); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	reply, err := ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("read %s reply: %w", msgType, err)
	}
	if reply.Header.RequestID != id {
		return fmt.Errorf("%w: request %d answered as %d", ErrUnexpectedReply, id, reply.Header.RequestID)
	}
	if err := AsError(reply); err != nil {
		return err
	}
	if reply.Header.Type != want {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Header.Type)
	}
	if resp == nil || len(reply.Payload) == 0 {
		return nil
	}
	return Decode(reply.Payload, resp)
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, MsgPing, MsgPong, nil, nil)
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var st StatusResponse
	if err := c.Call(ctx, MsgStatusRequest, MsgStatusResponse, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetMode switches the daemon's mode and persists it.
func (c *Client) SetMode(ctx context.Context, mode string) (*SetModeResponse, error) {
	var r SetModeResponse
	if err := c.Call(ctx, MsgSetMode, MsgSetModeResp, &SetModeRequest{Mode: mode}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReleaseAll asks the daemon to let go of every key it holds down.
func (c *Client) ReleaseAll(ctx context.Context) (*ReleaseAllResponse, error) {
	var r ReleaseAllResponse
	if err := c.Call(ctx, MsgReleaseAll, MsgReleaseAllResp, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
