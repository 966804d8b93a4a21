package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"cli-sandbox/internal/metrics"
)

const (
	terminalPort       = 7681
	backendDialTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// Origin validation happens in front of this service; the Gateway's own
	// admission is the capability token, not Origin.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Proxy upgrades an HTTP request to WebSocket and bidirectionally proxies
// frames to a sandbox pod's terminal server.
type Proxy struct {
	log logr.Logger
}

// NewProxy creates a Proxy that logs via log.
func NewProxy(log logr.Logger) *Proxy {
	return &Proxy{log: log}
}

// ServeWS upgrades w/r to WebSocket and proxies traffic to podIP's terminal
// port. Subprotocols are not forwarded: the client upgrade selects none and
// the backend dial offers none. It blocks until either side closes.
func (p *Proxy) ServeWS(w http.ResponseWriter, r *http.Request, podIP string) error {
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade client connection: %w", err)
	}
	defer clientConn.Close()

	dialCtx, cancel := context.WithTimeout(r.Context(), backendDialTimeout)
	defer cancel()

	backendURL := PodTerminalURL(podIP)
	backendConn, _, err := websocket.DefaultDialer.DialContext(dialCtx, backendURL, nil)
	if err != nil {
		return fmt.Errorf("dial pod %q: %w", backendURL, err)
	}
	defer backendConn.Close()

	metrics.ActiveTunnels.Inc()
	defer metrics.ActiveTunnels.Dec()
	p.log.Info("tunnel open", "backend", backendURL)

	errc := make(chan error, 2)
	go copyFrames(clientConn, backendConn, errc)
	go copyFrames(backendConn, clientConn, errc)

	err = <-errc
	p.log.Info("tunnel closed", "backend", backendURL, "reason", err)
	return nil
}

// PodTerminalURL builds the WebSocket URL for a sandbox pod's terminal
// server (fixed port 7681, per spec §4.3).
func PodTerminalURL(podIP string) string {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", podIP, terminalPort)}
	return u.String()
}

// copyFrames reads WebSocket frames from src and writes them to dst.
// On a normal close it propagates the close handshake to dst before
// returning.
func copyFrames(dst, src *websocket.Conn, errc chan<- error) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				_ = dst.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			errc <- err
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			errc <- err
			return
		}
	}
}
