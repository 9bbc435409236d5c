package bootstrap

import (
	transporthttp "github.com/johanhelsing/brp-relay/internal/transport/http"
	"github.com/johanhelsing/brp-relay/internal/websocket"
	"github.com/sirupsen/logrus"
)

// bootstrapTransport 初始化 Transport 层（HTTP + WebSocket 端点）
func bootstrapTransport(r *Relay) {
	if !r.Config.Relay.Enabled {
		return
	}

	endpoint := websocket.NewEndpoint(r.Broker, r.History)

	r.HTTPServer = transporthttp.NewServer(transporthttp.Options{
		Config:   r.Config,
		Gateway:  r.Gateway,
		Broker:   r.Broker,
		Endpoint: endpoint,
		History:  r.History,
	})

	logrus.Info("Transport layer initialized")
}
