package bootstrap

import (
	"context"

	"github.com/johanhelsing/brp-relay/internal/config"
	"github.com/johanhelsing/brp-relay/internal/infra/repository/history"
	"github.com/johanhelsing/brp-relay/internal/relay"
	transporthttp "github.com/johanhelsing/brp-relay/internal/transport/http"
	"github.com/sirupsen/logrus"
)

// Relay 聚合所有已初始化的模块
type Relay struct {
	// 配置
	Config *config.Config

	// 核心模块
	Calls   *relay.PendingTable
	Broker  *relay.Broker
	Gateway *relay.Gateway

	// 基础设施
	History history.Repository

	// Transport 层
	HTTPServer *transporthttp.Server
}

// Start 启动所有服务
func (r *Relay) Start(ctx context.Context) error {
	if r.HTTPServer != nil {
		r.HTTPServer.Start()
	} else {
		logrus.Warn("Relay is disabled in config, HTTP endpoint not started")
	}
	return nil
}

// Stop 停止所有服务并清理资源
func (r *Relay) Stop() error {
	if r.HTTPServer != nil {
		r.HTTPServer.Stop()
	}

	// 关闭会话会触发在途调用的清退
	if r.Broker != nil {
		r.Broker.Close()
	}

	if r.History != nil {
		if err := r.History.Close(); err != nil {
			logrus.Errorf("Error closing session history: %v", err)
		}
	}

	logrus.Info("All services stopped")
	return nil
}
