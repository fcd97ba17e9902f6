package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signalhub/internal/protocol"
)

// WebSocket serves the JSON-RPC protocol over WebSocket connections, one
// message per frame. Multiple clients may be connected at once; each frame is
// handled on its own goroutine and replies are serialized per connection.
type WebSocket struct {
	addr     string
	upgrader websocket.Upgrader

	server    *http.Server
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewWebSocket creates a transport listening on addr.
func NewWebSocket(addr string) *WebSocket {
	return &WebSocket{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		closed: make(chan struct{}),
	}
}

// Serve listens and blocks until Close or context cancellation.
func (w *WebSocket) Serve(ctx context.Context, h Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", func(rw http.ResponseWriter, r *http.Request) {
		conn, err := w.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			log.Printf("[Transport] WebSocket upgrade failed: %v", err)
			return
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.serveConn(ctx, conn, h)
		}()
	})

	w.server = &http.Server{Addr: w.addr, Handler: mux}

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.addr, err)
	}
	log.Printf("[Transport] WebSocket listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		w.Close()
		<-errCh
		w.wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		w.wg.Wait()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// serveConn reads frames from one connection until it drops.
func (w *WebSocket) serveConn(ctx context.Context, conn *websocket.Conn, h Handler) {
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg interface{}) {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[Transport] Failed to encode reply: %v", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[Transport] Failed to write reply: %v", err)
		}
	}

	var handlers sync.WaitGroup
	defer handlers.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closed:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Transport] Connection dropped: %v", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			write(parseErrorReply(err))
			continue
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			if reply := h.HandleMessage(ctx, &msg); reply != nil {
				write(reply)
			}
		}()
	}
}

// Close stops the listener and in-flight connections.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		if w.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = w.server.Shutdown(shutdownCtx)
		}
	})
	return err
}
