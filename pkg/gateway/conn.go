package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	// SendQueue bounds the outbound messages buffered per connection.
	SendQueue      int
	SubmitRate     rate.Limit
	SubmitBurst    int
	MaxMessageSize int64
	PingInterval   time.Duration
	// AllowedOrigins may contain "*". Empty keeps the same-origin check.
	AllowedOrigins []string
}

const writeWait = 10 * time.Second

// Server upgrades HTTP requests to websocket connections and pumps frames
// between them and a Gateway.
type Server struct {
	gateway  *Gateway
	hub      *Hub
	logger   *slog.Logger
	metrics  *Metrics
	opts     ServerOptions
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(gw *Gateway, hub *Hub, opts ServerOptions) *Server {
	if opts.SendQueue < 1 {
		opts.SendQueue = 64
	}
	if opts.SubmitRate == 0 {
		opts.SubmitRate = rate.Inf
	}
	if opts.SubmitBurst < 1 {
		opts.SubmitBurst = 1
	}
	s := &Server{
		gateway: gw,
		hub:     hub,
		logger:  gw.logger,
		metrics: hub.metrics,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
		},
	}
	if len(opts.AllowedOrigins) > 0 {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(opts.AllowedOrigins, "*") || slices.Contains(opts.AllowedOrigins, origin)
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Serve upgrades the request and blocks until the connection ends. A non-nil
// join is handled as a join request before the first frame is read. Clients
// may pass ?codec=cbor to receive binary frames before they send any.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, join any) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	frameType := websocket.TextMessage
	if r.URL.Query().Get("codec") == "cbor" {
		frameType = websocket.BinaryMessage
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.serveConn(ctx, ws, frameType, join)
}

// Shutdown closes every open connection and waits for them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func codecName(frameType int) string {
	if frameType == websocket.BinaryMessage {
		return "cbor"
	}
	return "json"
}

func (s *Server) serveConn(ctx context.Context, ws *websocket.Conn, frameType int, join any) {
	connID := uuid.NewString()
	logger := s.logger.With("conn", connID, "remote", ws.RemoteAddr().String())
	logger.Info("connected")

	var lastFrame atomic.Int32
	lastFrame.Store(int32(frameType))
	out := s.hub.Register(connID, s.opts.SendQueue)

	if s.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(s.opts.MaxMessageSize)
	}
	if s.opts.PingInterval > 0 {
		pongWait := s.opts.PingInterval * 2
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ws.Close()
		if err := s.writeLoop(ctx, ws, out, &lastFrame); err != nil {
			logger.Warn("write loop ended", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ws.Close()
		defer s.hub.Unregister(connID)
		defer s.gateway.Disconnect(connID)
		if join != nil {
			s.gateway.Handle(ctx, connID, Request{Type: TypeJoin, FileID: join})
		}
		if err := s.readLoop(ctx, ws, connID, &lastFrame); err != nil {
			logger.Info("read loop ended", "err", err)
		}
	}()

	wg.Wait()
	logger.Info("disconnected")
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, connID string, lastFrame *atomic.Int32) error {
	limiter := rate.NewLimiter(s.opts.SubmitRate, s.opts.SubmitBurst)
	for {
		mt, p, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		codec, err := CodecFor(mt)
		if err != nil {
			return err
		}
		lastFrame.Store(int32(mt))
		s.metrics.Frames.WithLabelValues("in", codecName(mt)).Inc()

		var req Request
		if err := codec.Decode(p, &req); err != nil {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "malformed message"),
				time.Now().Add(writeWait))
			return fmt.Errorf("failed to decode message: %w", err)
		}
		if req.Type == TypeSubmit {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		s.gateway.Handle(ctx, connID, req)
	}
}

func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, out <-chan Message, lastFrame *atomic.Int32) error {
	var ping <-chan time.Time
	if s.opts.PingInterval > 0 {
		t := time.NewTicker(s.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return nil
			}
			mt := int(lastFrame.Load())
			codec, err := CodecFor(mt)
			if err != nil {
				return err
			}
			data, err := codec.Encode(msg)
			if err != nil {
				// skipping a message would leave the peer behind, so drop it and let it rejoin
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to encode message"),
					time.Now().Add(writeWait))
				return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(codec.FrameType(), data); err != nil {
				return err
			}
			s.metrics.Frames.WithLabelValues("out", codecName(codec.FrameType())).Inc()
		case <-ping:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return nil
		}
	}
}
