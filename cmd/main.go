package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/johanhelsing/brp-relay/internal/bootstrap"
	"github.com/johanhelsing/brp-relay/internal/config"
	"github.com/johanhelsing/brp-relay/internal/util"
	"github.com/sirupsen/logrus"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	util.InitLogger()
	if cfg.Logging.ToFile {
		if _, err := util.InitLoggerWithFile(cfg.Logging.Dir, cfg.Logging.RetentionDays); err != nil {
			logrus.Fatalf("Failed to initialize file logging: %v", err)
		}
		defer util.CloseLogFile()
	}

	// 使用 Bootstrap 初始化所有模块
	r, err := bootstrap.Initialize(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start services: %v", err)
	}

	logrus.Info("BRP relay started successfully")

	// 优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("Shutting down...")

	cancel()

	logrus.Info("Shutdown complete")
}
