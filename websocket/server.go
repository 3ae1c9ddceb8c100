package websocket

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Utkarsh049/Aviola/config"
	"github.com/Utkarsh049/Aviola/domain"
	"github.com/Utkarsh049/Aviola/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades HTTP requests and hands each connection to a new Session.
type Server struct {
	handler domain.MessageHandler
	tracker *Tracker
	cfg     config.Config
}

func NewServer(handler domain.MessageHandler, tracker *Tracker, cfg config.Config) *Server {
	return &Server{handler: handler, tracker: tracker, cfg: cfg}
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}

	metrics.ConnectionsTotal.Inc()
	s := NewSession(uuid.New().String(), ws, srv.handler, srv.tracker, srv.cfg)
	slog.Info("connection accepted", "sessionId", s.ID(), "remote", r.RemoteAddr)
	s.Start()
}
