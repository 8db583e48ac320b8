package transport

import (
	"go.uber.org/zap"

	"github.com/luma/protoip/protocol"
)

// Handler is how application logic plugs into the server. Each method is
// called on the goroutine that owns the connection.
type Handler interface {
	// OnConnect is called once after the connection was accepted. Returning
	// an error closes the connection.
	OnConnect(c *Conn) error

	// OnRequest is called after a transfer from the client completed. The
	// data is available through c.Data and friends. Returning an error
	// closes the connection.
	OnRequest(c *Conn) error

	// OnFile is called after the client sent a file, path is where it was
	// stored.
	OnFile(c *Conn, path string) error

	// OnResponse is called after c.Send delivered a reply.
	OnResponse(c *Conn)

	// OnDisconnect is called once when the connection ends. err is nil when
	// the client went away cleanly.
	OnDisconnect(c *Conn, err error)
}

// NopHandler implements Handler doing nothing. Embed it to only override
// the events you care about.
type NopHandler struct{}

func (NopHandler) OnConnect(c *Conn) error { return nil }
func (NopHandler) OnRequest(c *Conn) error { return nil }
func (NopHandler) OnFile(c *Conn, path string) error { return nil }
func (NopHandler) OnResponse(c *Conn) {}
func (NopHandler) OnDisconnect(c *Conn, err error) {}

var _ Handler = NopHandler{}

// PingHandler answers PING frames with PONG and ignores everything else.
type PingHandler struct {
	NopHandler
}

func (PingHandler) OnRequest(c *Conn) error {
	_, err := answerPing(c)
	return err
}

// EchoHandler answers PING frames with PONG and sends every other message
// back unchanged.
type EchoHandler struct {
	NopHandler
}

func (EchoHandler) OnRequest(c *Conn) error {
	answered, err := answerPing(c)
	if err != nil || answered {
		return err
	}

	data, err := c.Data()
	if err != nil {
		return err
	}

	return c.Send(data)
}

func answerPing(c *Conn) (bool, error) {
	if !c.IsFrame() {
		return false, nil
	}

	f, err := c.ReceivedFrame()
	if err != nil || f.Kind != protocol.KindPing {
		return false, nil
	}

	c.log.Debug("PING")

	if err := c.SendFrame(protocol.NewControl(protocol.KindPong)); err != nil {
		c.log.Warn("Failed to respond to PING", zap.Error(err))
		return true, err
	}

	return true, nil
}
