package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/protoip/storage"
)

const statTimeout = 3 * time.Second

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup
	connWaiter sync.WaitGroup

	addr      string
	reuseport bool

	numListeners int
	listeners    []*TCPListener

	handler    Handler
	streamOpts StreamOptions
	fileDir    string
	store      storage.Store

	// mu guards listeners and conns
	mu    sync.Mutex
	conns map[string]*Conn

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners
	if numListeners < 1 {
		numListeners = 1
		if options.Reuseport {
			numListeners = runtime.NumCPU()
		}
	}

	handler := options.Handler
	if handler == nil {
		handler = NopHandler{}
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		handler:      handler,
		streamOpts:   options.Stream,
		fileDir:      options.FileDir,
		store:        options.Store,
		conns:        make(map[string]*Conn),
		log:          log,
	}
}

// Start binds every listener and starts accepting connections. It returns
// once the server is reachable.
func (t *TCP) Start(parentCtx context.Context) error {
	if t.numListeners > 1 && !t.reuseport {
		return fmt.Errorf("%d listeners on %s require reuseport", t.numListeners, t.addr)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	for i := 0; i < t.numListeners; i++ {
		listener, err := t.listen()
		if err != nil {
			cancel()
			return multierr.Append(err, t.closeListeners())
		}

		t.startListener(ctx, listener)
	}

	return nil
}

func (t *TCP) listen() (net.Listener, error) {
	if t.reuseport {
		return reuseport.Listen("tcp", t.addr)
	}

	return net.Listen("tcp", t.addr)
}

func (t *TCP) startListener(ctx context.Context, l net.Listener) {
	t.mu.Lock()
	listener := NewTCPListener(
		ctx,
		l,
		t,
		t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
	)

	t.listeners = append(t.listeners, listener)
	t.mu.Unlock()

	t.stopWaiter.Add(1)
	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			t.log.Error("Failed to listen", zap.Error(err))
		}
	}()
}

// Addr returns the address of the first listener, or nil before Start.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

func (t *TCP) Store() storage.Store {
	return t.store
}

// Conns returns a snapshot of the registered connections, oldest first.
func (t *TCP) Conns() []ConnInfo {
	t.mu.Lock()
	infos := make([]ConnInfo, 0, len(t.conns))
	for _, c := range t.conns {
		infos = append(infos, c.Info())
	}
	t.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})

	return infos
}

// Conn looks up a registered connection.
func (t *TCP) Conn(id string) (*Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.conns[id]
	return c, ok
}

// Close immediately closes all listeners and connections and waits for
// their goroutines to exit.
func (t *TCP) Close() error {
	t.log.Info("Stopping TCP server")
	if t.cancel != nil {
		t.cancel()
	}

	err := t.closeListeners()
	t.stopWaiter.Wait()

	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}

	t.connWaiter.Wait()
	t.log.Info("TCP server stopped")

	return err
}

func (t *TCP) closeListeners() (err error) {
	t.mu.Lock()
	listeners := append([]*TCPListener(nil), t.listeners...)
	t.mu.Unlock()

	for _, listener := range listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

// accept registers conn and serves it on its own goroutine.
func (t *TCP) accept(ctx context.Context, conn net.Conn) {
	c := newConn(ctx, uuid.NewString(), conn, t)
	t.addConn(c)

	t.connWaiter.Add(1)
	go func() {
		defer t.connWaiter.Done()
		defer t.removeConn(c)

		c.serve(t.handler)
	}()
}

func (t *TCP) addConn(c *Conn) {
	t.mu.Lock()
	t.conns[c.ID] = c
	t.mu.Unlock()

	t.setStat(c.ctx, c.ID, "remote", c.RemoteAddr())
	t.setStat(c.ctx, c.ID, "connected_at", c.ConnectedAt.Format(time.RFC3339))
}

// removeConn unregisters c and drops its stats. The totals are kept.
func (t *TCP) removeConn(c *Conn) {
	t.mu.Lock()
	delete(t.conns, c.ID)
	t.mu.Unlock()

	if t.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), statTimeout)
	defer cancel()

	if err := t.store.Delete(ctx, connStatsKey(c.ID)); err != nil {
		t.log.Warn("Failed to drop connection stats", zap.String("conn", c.ID), zap.Error(err))
	}
}

func connStatsKey(connID string) []byte {
	return []byte("conns." + connID)
}

func statKey(connID, stat string) []byte {
	return []byte("conns." + connID + "." + stat)
}

func (t *TCP) setStat(parentCtx context.Context, connID, stat string, value interface{}) {
	if t.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parentCtx, statTimeout)
	defer cancel()

	if err := t.store.Set(ctx, statKey(connID, stat), value); err != nil {
		t.log.Warn("Failed to record stat", zap.String("stat", stat), zap.Error(err))
	}
}

func (t *TCP) recordStat(parentCtx context.Context, connID, stat string, delta int64) {
	if t.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parentCtx, statTimeout)
	defer cancel()

	if _, err := t.store.Incr(ctx, statKey(connID, stat), delta); err != nil {
		t.log.Warn("Failed to record stat", zap.String("stat", stat), zap.Error(err))
	}

	if _, err := t.store.Incr(ctx, []byte("totals."+stat), delta); err != nil {
		t.log.Warn("Failed to record stat", zap.String("stat", stat), zap.Error(err))
	}
}

type TCPListener struct {
	ctx       context.Context
	listener  net.Listener
	server    *TCP
	closeOnce sync.Once
	log       *zap.Logger
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	server *TCP,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:      ctx,
		listener: listener,
		server:   server,
		log:      log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

func (t *TCPListener) Close() (err error) {
	t.closeOnce.Do(func() {
		if cerr := t.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})

	return err
}

func (t *TCPListener) Listen() error {
	go func() {
		<-t.ctx.Done()

		t.log.Info("Closing listener")
		if err := t.Close(); err != nil {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				t.log.Info("Stopped accepting new connections")
				return nil
			}

			return err
		}

		t.log.Debug("Accepted connection", zap.String("remote", conn.RemoteAddr().String()))
		t.server.accept(t.ctx, conn)
	}
}
