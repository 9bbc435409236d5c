package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const logFilePrefix = "brp-relay-"

var (
	logFileMu   sync.Mutex
	logFilePath string
	currentDate string // 当前日志文件对应的日期（格式：20060102）
	fileHook    *FileHook
	stopCleanup chan struct{}
)

// FileHook logrus Hook 实现，用于将日志写入文件
type FileHook struct {
	mu        sync.Mutex
	file      *os.File
	formatter logrus.Formatter
}

// UpdateFile 更新文件句柄（用于日志轮换）
func (hook *FileHook) UpdateFile(newFile *os.File) {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	if hook.file != nil {
		hook.file.Close()
	}
	hook.file = newFile
}

// Levels 返回 Hook 要处理的日志级别
func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 写入日志到文件
func (hook *FileHook) Fire(entry *logrus.Entry) error {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	if hook.file == nil {
		return nil
	}
	line, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = hook.file.Write(line)
	return err
}

// Close 关闭文件
func (hook *FileHook) Close() error {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	if hook.file != nil {
		err := hook.file.Close()
		hook.file = nil
		return err
	}
	return nil
}

// InitLogger 初始化日志系统（仅控制台输出）
func InitLogger() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
		CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
			return frame.Function, ""
		},
	})
	logrus.SetReportCaller(true)
}

func fileFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
		DisableColors:   true, // 文件输出不需要颜色
	}
}

// createLogFile 创建指定日期的日志文件（追加模式）
func createLogFile(logDir string, date string) (*os.File, string, error) {
	path := filepath.Join(logDir, logFilePrefix+date+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file: %w", err)
	}
	return file, path, nil
}

// rotateLogFile 轮换日志文件（日期变化时）
func rotateLogFile(logDir string) error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	today := time.Now().Format("20060102")
	if currentDate == today && fileHook != nil {
		return nil
	}

	file, path, err := createLogFile(logDir, today)
	if err != nil {
		return err
	}
	if fileHook != nil {
		fileHook.UpdateFile(file)
	} else {
		fileHook = &FileHook{file: file, formatter: fileFormatter()}
		logrus.AddHook(fileHook)
	}
	logFilePath = path
	currentDate = today
	return nil
}

// cleanupOldLogs 清理超过保留天数的旧日志文件
func cleanupOldLogs(logDir string, keepDays int) error {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoffDate := time.Now().AddDate(0, 0, -keepDays).Format("20060102")
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		dateStr := strings.TrimPrefix(strings.TrimSuffix(name, ".log"), logFilePrefix)
		if len(dateStr) != 8 {
			continue
		}
		// 日期格式为 YYYYMMDD，可以直接按字符串比较
		if dateStr < cutoffDate {
			path := filepath.Join(logDir, name)
			if err := os.Remove(path); err != nil {
				logrus.Warnf("Failed to delete old log file %s: %v", path, err)
			} else {
				logrus.Infof("Deleted old log file: %s", path)
			}
		}
	}
	return nil
}

// startLogRotation 启动日志轮换和清理的定时任务
func startLogRotation(logDir string, keepDays int) {
	stopCleanup = make(chan struct{})

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer cleanupTicker.Stop()

		if err := cleanupOldLogs(logDir, keepDays); err != nil {
			logrus.Warnf("Failed to cleanup old logs: %v", err)
		}

		for {
			select {
			case <-ticker.C:
				if err := rotateLogFile(logDir); err != nil {
					logrus.Errorf("Failed to rotate log file: %v", err)
				}
			case <-cleanupTicker.C:
				if err := cleanupOldLogs(logDir, keepDays); err != nil {
					logrus.Warnf("Failed to cleanup old logs: %v", err)
				}
			case <-stopCleanup:
				return
			}
		}
	}()
}

// InitLoggerWithFile 初始化日志系统并设置文件输出
// logDir: 日志文件目录；keepDays: 保留日志文件的天数
// 返回日志文件路径
func InitLoggerWithFile(logDir string, keepDays int) (string, error) {
	if keepDays <= 0 {
		keepDays = 3
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileMu.Lock()
	today := time.Now().Format("20060102")
	file, path, err := createLogFile(logDir, today)
	if err != nil {
		logFileMu.Unlock()
		return "", err
	}

	fileHook = &FileHook{file: file, formatter: fileFormatter()}
	logrus.AddHook(fileHook)
	logrus.SetLevel(logrus.InfoLevel)
	logFilePath = path
	currentDate = today
	logFileMu.Unlock()

	startLogRotation(logDir, keepDays)

	fmt.Fprintf(os.Stderr, "Logging to file: %s (keeping %d days of logs)\n", path, keepDays)
	return path, nil
}

// GetLogFilePath 获取当前日志文件路径
func GetLogFilePath() string {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	return logFilePath
}

// CloseLogFile 关闭日志文件并停止轮换任务
func CloseLogFile() error {
	if stopCleanup != nil {
		close(stopCleanup)
		stopCleanup = nil
	}

	logFileMu.Lock()
	defer logFileMu.Unlock()
	if fileHook != nil {
		err := fileHook.Close()
		logFilePath = ""
		currentDate = ""
		return err
	}
	return nil
}
