package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/tictactoe/logger"
	"github.com/wfunc/tictactoe/monitor"
	"github.com/wfunc/tictactoe/network"
	"github.com/wfunc/tictactoe/services"
	"github.com/wfunc/tictactoe/session"
)

const (
	labelMalformed = "malformed"
	labelUnknown   = "unknown"
)

type Config struct {
	Address string
	WSPath  string
	Conn    network.Options
}

// GameServer accepts websocket clients and feeds their messages to the
// game service, one message at a time per connection.
type GameServer struct {
	cfg        Config
	upgrader   websocket.Upgrader
	service    *services.GameService
	sessions   *session.Manager
	monitor    *monitor.Monitor
	httpServer *http.Server

	mutex   sync.Mutex
	closing bool
	conns   sync.WaitGroup
}

func NewGameServer(cfg Config, service *services.GameService, sessions *session.Manager, mon *monitor.Monitor) *GameServer {
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	s := &GameServer{
		cfg:      cfg,
		service:  service,
		sessions: sessions,
		monitor:  mon,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler serves the websocket endpoint and /healthz.
func (s *GameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start blocks serving HTTP until Shutdown.
func (s *GameServer) Start() error {
	logger.Log.Infow("game server listening", "address", s.cfg.Address, "ws_path", s.cfg.WSPath)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Shutdown stops accepting clients, closes every open connection and
// waits for their handlers to return. Room state is left as it is.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	s.closing = true
	s.mutex.Unlock()

	err := s.httpServer.Shutdown(ctx)

	// hijacked websocket connections are not tracked by http.Server
	for _, sess := range s.sessions.All() {
		_ = sess.Close()
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *GameServer) isClosing() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closing
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	if s.closing {
		s.mutex.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mutex.Unlock()
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infow("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn, s.cfg.Conn)
	sess := session.NewSession(uuid.NewString(), wsConn)
	s.sessions.Add(sess)
	s.monitor.IncOnlineConnections()
	go wsConn.WritePump()

	logger.Log.Infow("connection opened", "conn", sess.ID, "remote", wsConn.RemoteAddr())
	if s.isClosing() {
		// Shutdown may have listed sessions before this one was added
		_ = wsConn.Close()
	}

	defer func() {
		s.service.Disconnect(sess)
		s.monitor.DecOnlineConnections()
		_ = wsConn.Close()
		logger.Log.Infow("connection closed", "conn", sess.ID, "remote", wsConn.RemoteAddr())
	}()

	for {
		data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Log.Debugw("read failed", "conn", sess.ID, "error", err)
			}
			return
		}
		sess.Touch()
		s.dispatch(sess, data)
	}
}

// dispatch handles one frame. Bad input is dropped without a reply, and a
// panic in a handler costs only that message.
func (s *GameServer) dispatch(sess *session.Session, data []byte) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorw("message handler panicked", "conn", sess.ID, "panic", r)
		}
	}()

	req, err := network.DecodeRequest(data)
	if err != nil {
		s.monitor.IncMessagesReceived(labelMalformed)
		logger.Log.Debugw("malformed message dropped", "conn", sess.ID, "error", err)
		return
	}

	if err := s.service.Handle(sess, req); err != nil {
		s.monitor.IncMessagesReceived(labelUnknown)
		logger.Log.Debugw("message dropped", "conn", sess.ID, "type", req.Type, "error", err)
		return
	}
	s.monitor.IncMessagesReceived(req.Type)
	s.monitor.ObserveMessageLatency(time.Since(start))
}
