package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// LoadConfig 从文件加载配置并应用默认值
func LoadConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	// 中继默认开启，配置文件可以显式关闭
	cfg := &Config{Relay: RelayConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults 为配置项设置默认值
func ApplyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":15702" // BRP 默认端口
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}

	// Relay 配置默认值
	if cfg.Relay.Path == "" {
		cfg.Relay.Path = "/brp-relay"
	}
	if cfg.Relay.CallTimeoutSeconds == 0 {
		cfg.Relay.CallTimeoutSeconds = 30
	}
	if cfg.Relay.WriteTimeoutSeconds == 0 {
		cfg.Relay.WriteTimeoutSeconds = 10
	}
	if cfg.Relay.WatchBuffer == 0 {
		cfg.Relay.WatchBuffer = 8 // 与 WASM 对端插件的 watch 通道大小一致
	}

	// 会话历史默认值
	if cfg.History.DBPath == "" {
		cfg.History.DBPath = cfg.DataDir + "/sessions.db"
	}

	// 日志配置默认值
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "./logs"
	}
	if cfg.Logging.RetentionDays == 0 {
		cfg.Logging.RetentionDays = 3
	}
}
