package transport_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/protoip/client"
	"github.com/luma/protoip/protocol"
	"github.com/luma/protoip/storage"
	"github.com/luma/protoip/transport"
)

// recordingHandler remembers the lifecycle events it saw.
type recordingHandler struct {
	transport.EchoHandler

	mu           sync.Mutex
	connected    []string
	disconnected []string
	files        []string
}

func (h *recordingHandler) OnConnect(c *transport.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connected = append(h.connected, c.ID)
	return nil
}

func (h *recordingHandler) OnFile(c *transport.Conn, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.files = append(h.files, path)
	return nil
}

func (h *recordingHandler) OnDisconnect(c *transport.Conn, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.disconnected = append(h.disconnected, c.ID)
}

func (h *recordingHandler) Connected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.connected...)
}

func (h *recordingHandler) Files() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.files...)
}

func (h *recordingHandler) Disconnected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.disconnected...)
}

func makeTCPServer(handler transport.Handler, fileDir string) (*transport.TCP, *storage.InmemoryStore) {
	store := storage.NewInmemoryStore()

	tcp := transport.NewTCP(transport.Options{
		Host:    "127.0.0.1",
		Port:    0,
		FileDir: fileDir,
		Handler: handler,
		Stream:  testOptions(),
		Store:   store,
		Log:     zap.NewNop(),
	})

	ExpectWithOffset(1, tcp.Start(context.Background())).To(Succeed())

	return tcp, store
}

func connect(tcp *transport.TCP) *client.Conn {
	conn := client.New(client.Options{Stream: testOptions()})
	ExpectWithOffset(1, conn.Connect(context.Background(), tcp.Addr().String())).To(Succeed())

	return conn
}

func stat(store storage.Store, key string) string {
	value, err := store.Get(context.Background(), []byte(key))
	Expect(err).To(Succeed())
	return string(value)
}

var _ = Describe("transport / TCP", func() {
	var (
		handler *recordingHandler
		tcp     *transport.TCP
		store   *storage.InmemoryStore
		dir     string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "protoip-server")
		Expect(err).To(Succeed())

		handler = &recordingHandler{}
		tcp, store = makeTCPServer(handler, dir)
	})

	AfterEach(func() {
		Expect(tcp.Close()).To(Succeed())
		Expect(store.Close()).To(Succeed())
		os.RemoveAll(dir)
	})

	It("listens on the desired port", func() {
		conn, err := net.Dial("tcp", tcp.Addr().String())
		Expect(err).To(Succeed())
		conn.Close()
	})

	It("will respond with PONG when the client sends PING", func() {
		conn := connect(tcp)
		defer conn.Disconnect()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		rtt, err := conn.Ping(ctx)
		Expect(err).To(Succeed())
		Expect(rtt).To(BeNumerically(">", 0))
	})

	It("echoes messages", func() {
		conn := connect(tcp)
		defer conn.Disconnect()

		message := string(pattern(3000))
		Expect(conn.SendString(message)).To(Succeed())
		Expect(conn.Receive()).To(Succeed())

		Expect(conn.DataAsText()).To(Equal(message))
	})

	It("echoes frame sized messages that are not frames", func() {
		conn := connect(tcp)
		defer conn.Disconnect()

		message := pattern(protocol.FrameSize)
		copy(message, le32(uint32(protocol.KindPing)))

		Expect(conn.Send(message)).To(Succeed())
		Expect(conn.Receive()).To(Succeed())

		Expect(conn.Data()).To(Equal(message))
	})

	It("drops the stats of a connection when it goes away", func() {
		conn := connect(tcp)

		Expect(conn.SendString("hello")).To(Succeed())
		Expect(conn.Receive()).To(Succeed())

		Eventually(tcp.Conns).Should(HaveLen(1))
		id := tcp.Conns()[0].ID
		Eventually(func() string { return stat(store, "conns."+id+".bytes_out") }).Should(Equal("5"))

		Expect(conn.Disconnect()).To(Succeed())

		Eventually(tcp.Conns).Should(BeEmpty())
		Eventually(func() string { return stat(store, "conns."+id) }).Should(BeEmpty())
		Expect(stat(store, "totals.bytes_in")).To(Equal("5"))
		Expect(stat(store, "totals.bytes_out")).To(Equal("5"))
	})

	It("reports its address while starting", func() {
		server := transport.NewTCP(transport.Options{
			Host: "127.0.0.1",
			Log:  zap.NewNop(),
		})
		defer server.Close()

		stop := make(chan struct{})
		polled := make(chan struct{})
		go func() {
			defer close(polled)
			for {
				select {
				case <-stop:
					return
				default:
					server.Addr()
				}
			}
		}()

		Expect(server.Start(context.Background())).To(Succeed())
		close(stop)
		<-polled

		Expect(server.Addr()).NotTo(BeNil())
	})

	It("registers connections while they are open", func() {
		conn := connect(tcp)

		Eventually(tcp.Conns).Should(HaveLen(1))
		info := tcp.Conns()[0]
		Expect(info.Connected).To(BeTrue())
		Eventually(handler.Connected).Should(ConsistOf(info.ID))

		registered, ok := tcp.Conn(info.ID)
		Expect(ok).To(BeTrue())
		Expect(registered.ID).To(Equal(info.ID))

		Expect(conn.Disconnect()).To(Succeed())

		Eventually(tcp.Conns).Should(BeEmpty())
		Eventually(handler.Disconnected).Should(ConsistOf(info.ID))
	})

	It("serves clients independently", func() {
		a := connect(tcp)
		defer a.Disconnect()
		b := connect(tcp)
		defer b.Disconnect()

		Expect(a.SendString("from a")).To(Succeed())
		Expect(b.SendString("from b")).To(Succeed())

		Expect(b.Receive()).To(Succeed())
		Expect(a.Receive()).To(Succeed())

		Expect(a.DataAsText()).To(Equal("from a"))
		Expect(b.DataAsText()).To(Equal("from b"))

		Eventually(tcp.Conns).Should(HaveLen(2))
	})

	It("records transfer statistics", func() {
		conn := connect(tcp)
		defer conn.Disconnect()

		Expect(conn.SendString("hello")).To(Succeed())
		Expect(conn.Receive()).To(Succeed())

		Eventually(tcp.Conns).Should(HaveLen(1))
		id := tcp.Conns()[0].ID

		Eventually(func() string { return stat(store, "conns."+id+".bytes_out") }).Should(Equal("5"))
		Expect(stat(store, "conns."+id+".bytes_in")).To(Equal("5"))
		Expect(stat(store, "conns."+id+".transfers_in")).To(Equal("1"))
		Expect(stat(store, "totals.transfers_in")).To(Equal("1"))
		Expect(stat(store, "conns."+id+".remote")).To(ContainSubstring("127.0.0.1"))
	})

	It("stores files sent by clients", func() {
		src, err := os.MkdirTemp("", "protoip-client")
		Expect(err).To(Succeed())
		defer os.RemoveAll(src)

		content := pattern(2048)
		Expect(os.WriteFile(filepath.Join(src, "upload.bin"), content, 0640)).To(Succeed())

		conn := connect(tcp)
		defer conn.Disconnect()

		Expect(conn.SendFile(filepath.Join(src, "upload.bin"))).To(Succeed())

		Expect(os.ReadFile(filepath.Join(dir, "upload.bin"))).To(Equal(content))
		Eventually(handler.Files).Should(ConsistOf(filepath.Join(dir, "upload.bin")))
	})

	It("drops clients that open with anything but SOT or FTS", func() {
		conn, err := net.Dial("tcp", tcp.Addr().String())
		Expect(err).To(Succeed())
		defer conn.Close()

		rawFrame(conn, protocol.NewControl(protocol.KindPong))

		Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		_, err = protocol.ReadFrame(conn)
		Expect(err).To(HaveOccurred())
		Expect(os.IsTimeout(err)).To(BeFalse())
	})

	It("closes open connections on Close", func() {
		conn := connect(tcp)
		Eventually(tcp.Conns).Should(HaveLen(1))

		Expect(tcp.Close()).To(Succeed())
		Expect(tcp.Conns()).To(BeEmpty())

		Expect(conn.Receive()).To(MatchError(protocol.ErrTransportIO))
		Expect(conn.IsConnected()).To(BeFalse())
	})

	It("refuses several listeners without reuseport", func() {
		server := transport.NewTCP(transport.Options{
			Host:         "127.0.0.1",
			NumListeners: 2,
		})

		Expect(server.Start(context.Background())).NotTo(Succeed())
	})
})
