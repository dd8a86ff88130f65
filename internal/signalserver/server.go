package signalserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/meshcall/meshcall/internal/protocol"
	"github.com/meshcall/meshcall/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the hub over a websocket endpoint at /ws.
type Server struct {
	hub    *Hub
	logger *logrus.Logger
	addr   string
}

func NewServer(addr string, logger *logrus.Logger, messages *store.MessageStore) *Server {
	return &Server{
		hub:    NewHub(logger, messages),
		logger: logger,
		addr:   addr,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("signaling server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:  s.hub,
		conn: conn,
		send: make(chan *protocol.Envelope, 32),
	}

	s.hub.register <- c

	go c.writePump()
	go c.readPump()
}
