package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/johanhelsing/brp-relay/internal/config"
	"github.com/johanhelsing/brp-relay/internal/infra/repository/history"
	"github.com/johanhelsing/brp-relay/internal/relay"
	"github.com/johanhelsing/brp-relay/internal/transport/http/brp"
	"github.com/johanhelsing/brp-relay/internal/websocket"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Config   *config.Config
	Gateway  *relay.Gateway
	Broker   *relay.Broker
	Endpoint *websocket.Endpoint
	History  history.Repository
}

type Server struct {
	Server *http.Server
	Router *mux.Router
}

func NewServer(opts Options) *Server {
	router := mux.NewRouter()

	brp.RegisterRoutes(router, opts.Gateway, opts.Broker, opts.Endpoint, opts.History, opts.Config.Relay.Path)

	return &Server{
		Server: &http.Server{Addr: opts.Config.ListenAddr, Handler: router},
		Router: router,
	}
}

func (s *Server) Start() {
	go func() {
		if err := s.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
	logrus.Infof("HTTP server started on %s", s.Server.Addr)
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to stop HTTP server")
	}
	logrus.Info("HTTP server stopped")
}
