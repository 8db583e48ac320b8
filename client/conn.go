package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luma/protoip/protocol"
	"github.com/luma/protoip/transport"
)

const DefaultConnectTimeout = 5 * time.Second

var ErrNotConnected = errors.New("client: not connected")

// Handler receives client side events. Embed NopHandler to only override
// the ones you need.
type Handler interface {
	OnConnect(c *Conn)
	OnDisconnect(c *Conn)
	OnSend(c *Conn)
	OnReceive(c *Conn)
}

type NopHandler struct{}

func (NopHandler) OnConnect(c *Conn) {}
func (NopHandler) OnDisconnect(c *Conn) {}
func (NopHandler) OnSend(c *Conn) {}
func (NopHandler) OnReceive(c *Conn) {}

type Options struct {
	ConnectTimeout time.Duration

	Stream transport.StreamOptions

	Handler Handler

	Log *zap.Logger
}

// Conn is the client side of a protoip connection. Calls block the caller
// and must not be made concurrently.
type Conn struct {
	opts    Options
	handler Handler

	conn   net.Conn
	stream *transport.Stream

	log *zap.Logger
}

func New(options Options) *Conn {
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = DefaultConnectTimeout
	}

	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	handler := options.Handler
	if handler == nil {
		handler = NopHandler{}
	}

	return &Conn{
		opts:    options,
		handler: handler,
		log:     options.Log,
	}
}

// Connect dials addr and calls OnConnect.
func (c *Conn) Connect(ctx context.Context, addr string) error {
	dialer := net.Dialer{Timeout: c.opts.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	c.attach(conn)
	c.handler.OnConnect(c)

	return nil
}

// Attach uses an already connected stream, e.g. one end of net.Pipe.
func (c *Conn) Attach(conn net.Conn) {
	c.attach(conn)
	c.handler.OnConnect(c)
}

func (c *Conn) attach(conn net.Conn) {
	streamOpts := c.opts.Stream
	if streamOpts.Log == nil {
		streamOpts.Log = c.log.Named("stream")
	}

	c.conn = conn
	c.stream = transport.NewStream(conn, streamOpts)
}

// Disconnect closes the connection and calls OnDisconnect.
func (c *Conn) Disconnect() error {
	if c.stream == nil {
		return ErrNotConnected
	}

	err := c.stream.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	c.handler.OnDisconnect(c)
	return err
}

func (c *Conn) IsConnected() bool {
	return c.stream != nil && c.stream.IsConnected()
}

// Stream exposes the underlying transfer engine.
func (c *Conn) Stream() *transport.Stream {
	return c.stream
}

// Send transmits data and calls OnSend.
func (c *Conn) Send(data []byte) error {
	if c.stream == nil {
		return ErrNotConnected
	}

	if err := c.stream.Transmit(data); err != nil {
		return err
	}

	c.handler.OnSend(c)
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

// SendFile transmits the file at path and calls OnSend.
func (c *Conn) SendFile(path string) error {
	if c.stream == nil {
		return ErrNotConnected
	}

	if err := c.stream.TransmitFile(path); err != nil {
		return err
	}

	c.handler.OnSend(c)
	return nil
}

// Receive waits for one transfer from the server and calls OnReceive.
func (c *Conn) Receive() error {
	if c.stream == nil {
		return ErrNotConnected
	}

	if err := c.stream.Receive(); err != nil {
		return err
	}

	c.handler.OnReceive(c)
	return nil
}

func (c *Conn) Data() ([]byte, error) {
	if c.stream == nil {
		return nil, ErrNotConnected
	}

	return c.stream.Data()
}

func (c *Conn) DataAs(r protocol.Representation) (interface{}, error) {
	if c.stream == nil {
		return nil, ErrNotConnected
	}

	return c.stream.DataAs(r)
}

func (c *Conn) DataAsText() (string, error) {
	if c.stream == nil {
		return "", ErrNotConnected
	}

	return c.stream.DataAsText()
}

// ReceivedFrame decodes the last received message as a whole frame.
func (c *Conn) ReceivedFrame() (protocol.Frame, error) {
	if c.stream == nil {
		return protocol.Frame{}, ErrNotConnected
	}

	return c.stream.ReceivedFrame()
}

// Ping sends a PING frame and waits for the PONG, returning the round trip
// time. If ctx ends first the connection is closed, as the stream would be
// left in the middle of a transfer.
func (c *Conn) Ping(ctx context.Context) (time.Duration, error) {
	if c.stream == nil {
		return 0, ErrNotConnected
	}

	type result struct {
		rtt time.Duration
		err error
	}

	resultChan := make(chan result, 1)
	started := time.Now()

	go func() {
		err := c.ping()
		resultChan <- result{rtt: time.Since(started), err: err}
	}()

	select {
	case res := <-resultChan:
		return res.rtt, res.err

	case <-ctx.Done():
		if err := c.stream.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Warn("Failed to close connection after cancelled ping", zap.Error(err))
		}

		<-resultChan
		return 0, ctx.Err()
	}
}

func (c *Conn) ping() error {
	if err := c.SendFrame(protocol.NewControl(protocol.KindPing)); err != nil {
		return err
	}

	if err := c.Receive(); err != nil {
		return err
	}

	reply, err := c.ReceivedFrame()
	if err != nil {
		return err
	}

	if reply.Kind != protocol.KindPong {
		return fmt.Errorf("expected PONG, got %s: %w", reply.Kind, protocol.ErrProtocolViolation)
	}

	return nil
}
