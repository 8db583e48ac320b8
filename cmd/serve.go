package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/protoip/storage"
	"github.com/luma/protoip/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for tcp clients on
	port int

	// Number of SO_REUSEPORT listeners, 0 means one per CPU
	numListeners int

	// Send text messages back to the client
	echo bool

	// Where received files are written, overrides PROTOIP_FILE_DIR
	fileDir string
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 7363, "The port to listen client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.IntVar(&numListeners, "listeners", 0, "Number of listeners sharing the port")
	flags.BoolVar(&echo, "echo", true, "Send every message back to the client")
	flags.StringVar(&fileDir, "file-dir", "", "Directory to store received files in")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start up the protoip server",
	Long: `Start up the protoip server

Usage
	protoip serve --port 7363 --http-port 7362

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := loadEnv(ctx)
		if err != nil {
			return err
		}
		defer log.Sync() // nolint:errcheck

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		if fileDir == "" {
			fileDir = conf.FileDir
		}

		if fileDir != "" {
			if err := os.MkdirAll(fileDir, 0750); err != nil {
				return err
			}
		}

		store := storage.NewInmemoryStore()
		defer store.Close()

		go logUpdates(store.ListenToUpdates(), log.Named("stats"))

		var handler transport.Handler = transport.PingHandler{}
		if echo {
			handler = transport.EchoHandler{}
		}

		tcp := transport.NewTCP(transport.Options{
			Host:         host,
			Port:         port,
			Reuseport:    true,
			NumListeners: numListeners,
			FileDir:      fileDir,
			Handler:      loggingHandler{Handler: handler, log: log.Named("handler")},
			Stream:       conf.StreamOptions(nil),
			Store:        store,
			Log:          log.Named("transport"),
		})

		router := setupRouter(conf.DebugHTTP, log)
		registerAdminRoutes(router, tcp)

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.Int("port", port),
			zap.String("httpPort", httpPort),
			zap.String("fileDir", fileDir))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(ctx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log.Named("http"), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

type adminServer interface {
	Conns() []transport.ConnInfo
	Store() storage.Store
}

func registerAdminRoutes(r gin.IRoutes, server adminServer) {
	// Ping test
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/stats", func(c *gin.Context) {
		store := server.Store()
		if store == nil {
			c.Data(http.StatusOK, "application/json", []byte("{}"))
			return
		}

		stats, err := store.Backup()
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}

		c.Data(http.StatusOK, "application/json", stats)
	})

	r.GET("/conns", func(c *gin.Context) {
		c.JSON(http.StatusOK, server.Conns())
	})
}

func logUpdates(updates <-chan *storage.Update, log *zap.Logger) {
	for update := range updates {
		log.Debug("Stat updated",
			zap.ByteString("key", update.Key),
			zap.ByteString("value", update.Value))
	}
}

// loggingHandler logs the connection lifecycle around another Handler.
type loggingHandler struct {
	transport.Handler
	log *zap.Logger
}

func (h loggingHandler) OnConnect(c *transport.Conn) error {
	h.log.Info("Client connected", zap.String("conn", c.ID), zap.String("remote", c.RemoteAddr()))
	return h.Handler.OnConnect(c)
}

func (h loggingHandler) OnFile(c *transport.Conn, path string) error {
	h.log.Info("Received file", zap.String("conn", c.ID), zap.String("path", path))
	return h.Handler.OnFile(c, path)
}

func (h loggingHandler) OnDisconnect(c *transport.Conn, err error) {
	h.log.Info("Client gone", zap.String("conn", c.ID), zap.Error(err))
	h.Handler.OnDisconnect(c, err)
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
