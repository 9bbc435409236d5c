package bootstrap

import (
	"fmt"
	"time"

	"github.com/johanhelsing/brp-relay/internal/config"
	"github.com/johanhelsing/brp-relay/internal/infra/repository/history"
	"github.com/johanhelsing/brp-relay/internal/relay"
	"github.com/sirupsen/logrus"
)

// Initialize 初始化所有模块
// 按照依赖顺序初始化：核心中继 -> 基础设施 -> Transport
func Initialize(cfg *config.Config) (*Relay, error) {
	r := &Relay{
		Config: cfg,
	}

	// 1. 初始化核心中继模块
	bootstrapRelay(r)

	// 2. 初始化会话历史仓库
	if err := bootstrapHistory(r); err != nil {
		return nil, fmt.Errorf("failed to initialize session history: %w", err)
	}

	// 3. 初始化 Transport 层
	bootstrapTransport(r)

	logrus.Info("All modules initialized successfully")
	return r, nil
}

// bootstrapRelay 初始化关联表、Broker 与 Gateway
func bootstrapRelay(r *Relay) {
	cfg := r.Config.Relay

	r.Calls = relay.NewPendingTable(cfg.WatchBuffer)
	r.Broker = relay.NewBroker(r.Calls, time.Duration(cfg.WriteTimeoutSeconds)*time.Second)
	r.Gateway = relay.NewGateway(r.Broker, r.Calls, time.Duration(cfg.CallTimeoutSeconds)*time.Second)
}

// bootstrapHistory 初始化会话历史仓库（可选）
func bootstrapHistory(r *Relay) error {
	if !r.Config.History.Enabled {
		return nil
	}
	repo, err := history.NewRepoSQLite(r.Config.History.DBPath)
	if err != nil {
		return err
	}
	r.History = repo
	return nil
}
