// Package client is the Go client for the quorumfs command protocol. It
// speaks the same length-prefixed msgpack framing as the server over a single
// reused TCP connection.
package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
)

// Client is a synchronous client over one connection. It dials lazily on the
// first request and redials after an I/O failure. Safe for concurrent use;
// requests are serialized on the connection.
type Client struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request I/O timeout. Default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for the server at addr ("host:port"). No connection is
// made until the first request.
func New(addr string, opts ...Option) *Client {
	c := &Client{addr: addr, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close drops the connection. The client may be reused afterwards; the next
// request redials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// CreateFile creates an empty file. Creating an existing file succeeds.
func (c *Client) CreateFile(path string) error {
	_, err := c.do(&command.Command{Type: command.CreateFile, Path: path})
	return err
}

// CreateDir creates a directory. Creating an existing directory succeeds.
func (c *Client) CreateDir(path string) error {
	_, err := c.do(&command.Command{Type: command.CreateDir, Path: path})
	return err
}

// WriteFile replaces the file's content.
func (c *Client) WriteFile(path string, data []byte) error {
	_, err := c.do(&command.Command{Type: command.WriteFile, Path: path, Payload: data})
	return err
}

// AppendFile appends to the file.
func (c *Client) AppendFile(path string, data []byte) error {
	_, err := c.do(&command.Command{Type: command.AppendFile, Path: path, Payload: data})
	return err
}

// DeleteFile removes a file. Deleting a missing file succeeds.
func (c *Client) DeleteFile(path string) error {
	_, err := c.do(&command.Command{Type: command.DeleteFile, Path: path})
	return err
}

// DeleteDir removes an empty directory. Deleting a missing directory
// succeeds; a non-empty one fails.
func (c *Client) DeleteDir(path string) error {
	_, err := c.do(&command.Command{Type: command.DeleteDir, Path: path})
	return err
}

// Rename moves a file or directory.
func (c *Client) Rename(oldPath, newPath string) error {
	_, err := c.do(&command.Command{Type: command.Rename, Path: oldPath, NewPath: newPath})
	return err
}

// ReadFile returns the file's content.
func (c *Client) ReadFile(path string) ([]byte, error) {
	resp, err := c.do(&command.Command{Type: command.ReadFile, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListDir returns the directory's entry names.
func (c *Client) ListDir(path string) ([]string, error) {
	resp, err := c.do(&command.Command{Type: command.ListDir, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Stat returns metadata for a file or directory.
func (c *Client) Stat(path string) (*command.StatInfo, error) {
	resp, err := c.do(&command.Command{Type: command.Stat, Path: path})
	if err != nil {
		return nil, err
	}
	return command.DecodeStat(resp.Data)
}

// Exists reports whether the path exists.
func (c *Client) Exists(path string) (bool, error) {
	resp, err := c.do(&command.Command{Type: command.Exists, Path: path})
	if err != nil {
		return false, err
	}
	return len(resp.Data) == 1 && resp.Data[0] == 1, nil
}

// do sends one command and waits for its response. A server-reported failure
// comes back as the decoded taxonomy error; a transport failure tears down
// the connection so the next request redials.
func (c *Client) do(cmd *command.Command) (*command.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.roundTrip(cmd)
	if err != nil {
		c.drop()
		return nil, err
	}
	if !resp.OK {
		return nil, fserr.Parse(resp.Error)
	}
	return resp, nil
}

func (c *Client) roundTrip(cmd *command.Command) (*command.Response, error) {
	if c.conn == nil {
		conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
		if err != nil {
			return nil, fserr.Newf(fserr.Network, "dial %s: %v", c.addr, err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		c.conn = conn
	}

	body, err := command.Encode(cmd)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fserr.Newf(fserr.Network, "set deadline: %v", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return nil, fserr.Newf(fserr.Network, "write request: %v", err)
	}
	if _, err := c.conn.Write(body); err != nil {
		return nil, fserr.Newf(fserr.Network, "write request: %v", err)
	}

	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, fserr.Newf(fserr.Network, "read response: %v", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > command.MaxEntrySize {
		return nil, fserr.Newf(fserr.Network, "invalid response frame length %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(c.conn, frame); err != nil {
		return nil, fserr.Newf(fserr.Network, "read response: %v", err)
	}

	resp, err := command.DecodeResponse(frame)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
