package transport

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/luma/protoip/storage"
)

const (
	// DefaultMaxTries is the retry budget of bounded reads and writes, and the
	// number of repair rounds a transfer may take.
	DefaultMaxTries = 3

	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// StreamOptions tunes a single Stream.
type StreamOptions struct {
	// MaxTries bounds failed reads/writes per frame and repair rounds per
	// transfer. Zero means DefaultMaxTries.
	MaxTries int

	// ReadTimeout and WriteTimeout are armed before every read/write attempt
	// when the connection supports deadlines. Zero means the defaults, a
	// negative value disables the deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// IdleTimeout bounds how long a server side stream waits for the first
	// frame of the next transfer. Zero waits forever.
	IdleTimeout time.Duration

	// Trace will dump frames to TraceOutput. This is only useful in local debugging
	Trace       bool
	TraceOutput io.Writer

	Log *zap.Logger
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.MaxTries <= 0 {
		o.MaxTries = DefaultMaxTries
	}

	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}

	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT. It is required when
	// NumListeners is greater than one.
	Reuseport bool

	NumListeners int

	// FileDir is where files sent by clients are written. File transfers are
	// refused when it is empty.
	FileDir string

	Handler Handler

	Stream StreamOptions

	// Store receives per connection transfer statistics. May be nil.
	Store storage.Store

	Log *zap.Logger
}
