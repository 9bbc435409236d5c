package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Record 一条中继会话历史记录
type Record struct {
	SessionID      string     `json:"session_id"`
	Generation     uint64     `json:"generation"`
	RemoteAddr     string     `json:"remote_addr"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// Repository 会话历史仓库
type Repository interface {
	RecordConnected(sessionID string, generation uint64, remoteAddr string) error
	RecordDisconnected(sessionID string, reason string) error
	ListRecent(limit int) ([]Record, error)
	Close() error
}

// sessionRepoSQLite SQLite 实现的会话历史仓库
type sessionRepoSQLite struct {
	db *sql.DB
}

// NewRepoSQLite 创建基于 SQLite 的会话历史仓库
func NewRepoSQLite(dbPath string) (Repository, error) {
	// 确保数据库目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &sessionRepoSQLite{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logrus.Infof("Session history repository initialized with SQLite at %s", dbPath)
	return repo, nil
}

// initSchema 初始化数据库表结构
func (r *sessionRepoSQLite) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS relay_sessions (
		session_id TEXT PRIMARY KEY,
		generation INTEGER NOT NULL,
		remote_addr TEXT,
		connected_at DATETIME NOT NULL,
		disconnected_at DATETIME,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_relay_sessions_connected_at ON relay_sessions(connected_at);
	`

	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (r *sessionRepoSQLite) RecordConnected(sessionID string, generation uint64, remoteAddr string) error {
	_, err := r.db.Exec(
		`INSERT INTO relay_sessions (session_id, generation, remote_addr, connected_at) VALUES (?, ?, ?, ?)`,
		sessionID, generation, remoteAddr, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session connect: %w", err)
	}
	return nil
}

func (r *sessionRepoSQLite) RecordDisconnected(sessionID string, reason string) error {
	_, err := r.db.Exec(
		`UPDATE relay_sessions SET disconnected_at = ?, reason = ? WHERE session_id = ?`,
		time.Now().UTC(), reason, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to record session disconnect: %w", err)
	}
	return nil
}

func (r *sessionRepoSQLite) ListRecent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT session_id, generation, remote_addr, connected_at, disconnected_at, reason
		 FROM relay_sessions ORDER BY connected_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var disconnectedAt sql.NullTime
		var reason sql.NullString
		if err := rows.Scan(&rec.SessionID, &rec.Generation, &rec.RemoteAddr, &rec.ConnectedAt, &disconnectedAt, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if disconnectedAt.Valid {
			t := disconnectedAt.Time
			rec.DisconnectedAt = &t
		}
		rec.Reason = reason.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close 关闭数据库连接
func (r *sessionRepoSQLite) Close() error {
	return r.db.Close()
}
