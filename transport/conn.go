package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/protoip/protocol"
)

// Conn is one accepted client connection. It owns its Stream for the whole
// lifetime of the connection.
type Conn struct {
	ID          string
	ConnectedAt time.Time

	ctx    context.Context
	server *TCP
	stream *Stream

	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

// ConnInfo is a snapshot of a registered connection.
type ConnInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	Connected   bool      `json:"connected"`
}

func newConn(ctx context.Context, id string, conn net.Conn, server *TCP) *Conn {
	log := server.log.Named("conn").With(zap.String("conn", id))

	streamOpts := server.streamOpts
	streamOpts.Log = log.Named("stream")

	return &Conn{
		ID:          id,
		ConnectedAt: time.Now().UTC(),
		ctx:         ctx,
		server:      server,
		stream:      NewStream(conn, streamOpts),
		log:         log,
	}
}

func (c *Conn) Stream() *Stream {
	return c.stream
}

func (c *Conn) RemoteAddr() string {
	return c.stream.remote
}

func (c *Conn) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *Conn) Info() ConnInfo {
	return ConnInfo{
		ID:          c.ID,
		Remote:      c.RemoteAddr(),
		ConnectedAt: c.ConnectedAt,
		Connected:   c.IsConnected(),
	}
}

// Data returns the message of the last request.
func (c *Conn) Data() ([]byte, error) {
	return c.stream.Data()
}

func (c *Conn) DataAs(r protocol.Representation) (interface{}, error) {
	return c.stream.DataAs(r)
}

func (c *Conn) DataAsText() (string, error) {
	return c.stream.DataAsText()
}

// ReceivedFrame decodes the last request as a whole frame.
func (c *Conn) ReceivedFrame() (protocol.Frame, error) {
	return c.stream.ReceivedFrame()
}

// IsFrame reports whether the last request is a whole encoded frame, see
// protocol.IsEncodedFrame.
func (c *Conn) IsFrame() bool {
	data, err := c.stream.Data()
	return err == nil && protocol.IsEncodedFrame(data)
}

// Send transmits data to the client and then calls the handler's OnResponse.
func (c *Conn) Send(data []byte) error {
	if err := c.stream.Transmit(data); err != nil {
		c.record("failures", 1)
		return err
	}

	c.record("transfers_out", 1)
	c.record("bytes_out", int64(len(data)))

	c.server.handler.OnResponse(c)
	return nil
}

func (c *Conn) SendString(s string) error {
	return c.Send([]byte(s))
}

func (c *Conn) SendFrame(f protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	return c.Send(b)
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.stream.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
	})

	return c.closeErr
}

// serve runs the handler lifecycle until the client goes away or a transfer
// fails.
func (c *Conn) serve(handler Handler) {
	log := c.log.Named("serve")

	err := handler.OnConnect(c)
	if err == nil {
		err = c.loop(handler)
	}

	if err != nil {
		log.Warn("Closing connection", zap.Error(err))
	} else {
		log.Info("Client disconnected")
	}

	handler.OnDisconnect(c, err)

	if err := c.Close(); err != nil {
		log.Warn("Failed to close connection cleanly", zap.Error(err))
	}
}

func (c *Conn) loop(handler Handler) error {
	for {
		start, err := c.stream.awaitOpening()
		if err != nil {
			if !c.stream.IsConnected() {
				return nil
			}

			return err
		}

		switch start.Kind {
		case protocol.KindSOT:
			if err := c.stream.receiveFrom(start); err != nil {
				c.record("failures", 1)
				return err
			}

			data, err := c.stream.Data()
			if err != nil {
				c.record("failures", 1)
				return err
			}

			c.record("transfers_in", 1)
			c.record("bytes_in", int64(len(data)))

			if err := handler.OnRequest(c); err != nil {
				return err
			}

		case protocol.KindFTS:
			if c.server.fileDir == "" {
				return fmt.Errorf("file transfers are disabled: %w", protocol.ErrProtocolViolation)
			}

			path, err := c.stream.receiveFileFrom(c.server.fileDir)
			if err != nil {
				c.record("failures", 1)
				return err
			}

			c.record("files_in", 1)

			if err := handler.OnFile(c, path); err != nil {
				return err
			}

		default:
			return fmt.Errorf("expected SOT or FTS, got %s: %w", start.Kind, protocol.ErrProtocolViolation)
		}
	}
}

func (c *Conn) record(stat string, delta int64) {
	c.server.recordStat(c.ctx, c.ID, stat, delta)
}
