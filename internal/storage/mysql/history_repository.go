package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "OpenMCP-Sui/internal/errors"
)

// maxMemoryRecords bounds the history kept in memory by the file repository.
const maxMemoryRecords = 1024

// HistoryRecord 表示一次已完成对话的落库结构。
type HistoryRecord struct {
	ID        int64  `json:"id"`
	Account   string `json:"account"`
	Message   string `json:"message"`
	Action    string `json:"action"`
	State     string `json:"state"`
	Reply     string `json:"reply"`
	CreatedAt int64  `json:"created_at"`
}

// HistoryRepository 抽象对话历史的持久化接口。
type HistoryRepository interface {
	Save(ctx context.Context, record *HistoryRecord) error
	ListRecent(ctx context.Context, account string, limit int) ([]HistoryRecord, error)
}

// MemoryHistoryRepository 使用本地 JSON Lines 文件保存对话历史，方便单机部署。
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []HistoryRecord
	nextID   int64
}

// NewMemoryHistoryRepository 创建基于文件的对话历史仓库。
func NewMemoryHistoryRepository(dataDir string) (*MemoryHistoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &MemoryHistoryRepository{dataFile: filepath.Join(dataDir, "chat_history.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录对话。
func (m *MemoryHistoryRepository) Save(_ context.Context, record *HistoryRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "对话记录不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开对话日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化对话记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入对话日志失败")
	}

	m.records = append([]HistoryRecord{*record}, m.records...)
	if len(m.records) > maxMemoryRecords {
		m.records = m.records[:maxMemoryRecords]
	}
	return nil
}

// ListRecent 返回账户最近的对话，按时间倒序排列。
func (m *MemoryHistoryRepository) ListRecent(_ context.Context, account string, limit int) ([]HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account = strings.ToLower(strings.TrimSpace(account))
	results := make([]HistoryRecord, 0)
	for _, record := range m.records {
		if limit > 0 && len(results) >= limit {
			break
		}
		if strings.ToLower(record.Account) == account {
			results = append(results, record)
		}
	}
	return results, nil
}

func (m *MemoryHistoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取对话日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []HistoryRecord
	for scanner.Scan() {
		var record HistoryRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]HistoryRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析对话日志失败")
	}

	if len(restored) > maxMemoryRecords {
		restored = restored[:maxMemoryRecords]
	}
	m.records = restored
	return nil
}

// SQLHistoryRepository 使用 MySQL 存储对话历史。
type SQLHistoryRepository struct {
	db *sql.DB
}

// NewSQLHistoryRepository 创建连接池并执行内置迁移。
func NewSQLHistoryRepository(ctx context.Context, cfg Config) (*SQLHistoryRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return &SQLHistoryRepository{db: db}, nil
}

const insertHistorySQL = `INSERT INTO chat_history
    (account, message, action, state, reply, created_at)
    VALUES (?, ?, ?, ?, ?, ?)`

const listHistorySQL = `SELECT id, account, message, action, state, reply, created_at
    FROM chat_history WHERE account = ? ORDER BY created_at DESC, id DESC LIMIT ?`

// Save 将对话记录写入 MySQL。
func (s *SQLHistoryRepository) Save(ctx context.Context, record *HistoryRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "对话记录不能为空")
	}
	res, err := s.db.ExecContext(ctx, insertHistorySQL,
		strings.ToLower(strings.TrimSpace(record.Account)),
		record.Message,
		record.Action,
		record.State,
		record.Reply,
		record.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 MySQL 失败")
	}
	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// ListRecent 查询账户最近的若干条对话。
func (s *SQLHistoryRepository) ListRecent(ctx context.Context, account string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, listHistorySQL, strings.ToLower(strings.TrimSpace(account)), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询对话记录失败")
	}
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var record HistoryRecord
		if err := rows.Scan(&record.ID, &record.Account, &record.Message, &record.Action, &record.State, &record.Reply, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析对话记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历对话记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLHistoryRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
