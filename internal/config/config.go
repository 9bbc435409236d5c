package config

// Config 应用级配置
// 包含中继服务运行所需的所有配置，各模块配置通过组合方式引入
type Config struct {
	ListenAddr string `yaml:"listen_addr"` // e.g., ":15702" - BRP HTTP 端点监听地址
	DataDir    string `yaml:"data_dir"`    // e.g., "./data" - SQLite 数据目录

	Relay   RelayConfig   `yaml:"relay"`   // Relay module configuration
	History HistoryConfig `yaml:"history"` // Session history configuration
	Logging LoggingConfig `yaml:"logging"` // Logging configuration
}

// RelayConfig Relay 模块配置
type RelayConfig struct {
	Enabled             bool   `yaml:"enabled"`               // 是否启用中继（关闭时 HTTP 端点不启动）
	Path                string `yaml:"path"`                  // e.g., "/brp-relay" - 对端 WebSocket 接入路径
	CallTimeoutSeconds  int    `yaml:"call_timeout_seconds"`  // 单次调用等待回复的超时（秒）
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"` // WebSocket 写超时（秒）
	WatchBuffer         int    `yaml:"watch_buffer"`          // watch 调用的回复缓冲大小
}

// HistoryConfig 会话历史配置
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"` // 是否记录会话历史
	DBPath  string `yaml:"db_path"` // e.g., "./data/sessions.db"
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	ToFile        bool   `yaml:"to_file"`        // 是否输出到文件
	Dir           string `yaml:"dir"`            // 日志文件目录
	RetentionDays int    `yaml:"retention_days"` // 保留天数
}
