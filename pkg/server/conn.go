package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
	"github.com/quorumfs/quorumfs/pkg/metrics"
)

// conn serves one client connection. Frames are a 4-byte big-endian length
// followed by a msgpack body; the same framing carries requests and
// responses.
type conn struct {
	server *Server
	conn   net.Conn
	id     string
	log    zerolog.Logger
}

func newConn(s *Server, tcpConn net.Conn) *conn {
	id := uuid.NewString()
	return &conn{
		server: s,
		conn:   tcpConn,
		id:     id,
		log: s.log.With().Str("conn", id).
			Str("remote", tcpConn.RemoteAddr().String()).Logger(),
	}
}

func (c *conn) serve() {
	defer func() { _ = c.conn.Close() }()
	c.log.Debug().Msg("connection opened")

	for {
		if err := c.handleRequest(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}
	}
}

func (c *conn) close() {
	_ = c.conn.Close()
}

func (c *conn) handleRequest() error {
	frame, err := c.readFrame()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.server.cfg.ReadTimeout)
	defer cancel()

	if err := c.server.throttle(ctx); err != nil {
		return c.writeResponse(command.ErrResponse(
			fserr.Newf(fserr.Timeout, "request throttled: %v", err)))
	}

	cmd, err := command.Decode(frame)
	if err != nil {
		// Framing is still intact when the body fails to decode, so answer
		// the error instead of dropping the connection.
		return c.writeResponse(command.ErrResponse(err))
	}

	start := time.Now()
	resp := c.dispatch(ctx, cmd)
	metrics.RequestDuration.WithLabelValues(cmd.Type.String()).
		Observe(time.Since(start).Seconds())

	code := fserr.OK
	if !resp.OK {
		code = fserr.CodeOf(fserr.Parse(resp.Error))
	}
	metrics.RequestsTotal.WithLabelValues(cmd.Type.String(), code.String()).Inc()

	c.log.Debug().Str("type", cmd.Type.String()).Str("path", cmd.Path).
		Bool("ok", resp.OK).Dur("took", time.Since(start)).Msg("request")

	return c.writeResponse(resp)
}

func (c *conn) dispatch(ctx context.Context, cmd *command.Command) *command.Response {
	if cmd.Type.Mutating() {
		return c.server.applier.Submit(ctx, cmd)
	}

	switch cmd.Type {
	case command.ReadFile:
		data, err := c.server.store.ReadFile(cmd.Path)
		if err != nil {
			return command.ErrResponse(err)
		}
		resp := command.OKResponse()
		resp.Data = data
		return resp

	case command.ListDir:
		entries, err := c.server.store.ListDir(cmd.Path)
		if err != nil {
			return command.ErrResponse(err)
		}
		resp := command.OKResponse()
		resp.Entries = entries
		return resp

	case command.Stat:
		info, err := c.server.store.Stat(cmd.Path)
		if err != nil {
			return command.ErrResponse(err)
		}
		data, err := command.EncodeStat(info)
		if err != nil {
			return command.ErrResponse(err)
		}
		resp := command.OKResponse()
		resp.Data = data
		return resp

	case command.Exists:
		ok, err := c.server.store.Exists(cmd.Path)
		if err != nil {
			return command.ErrResponse(err)
		}
		resp := command.OKResponse()
		if ok {
			resp.Data = []byte{1}
		} else {
			resp.Data = []byte{0}
		}
		return resp

	default:
		return command.ErrResponse(fserr.Newf(fserr.Serialization,
			"unknown command type %d", cmd.Type))
	}
}

func (c *conn) readFrame() ([]byte, error) {
	// Every blocking read is bounded, including the idle wait for the next
	// request. Clients redial after a timeout disconnect.
	if err := c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.ReadTimeout)); err != nil {
		return nil, err
	}

	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > command.MaxEntrySize {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(c.conn, frame); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return frame, nil
}

func (c *conn) writeResponse(resp *command.Response) error {
	body, err := command.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout)); err != nil {
		return err
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := c.conn.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}
