package contactstore

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/pkg/logger"
)

// Contact 是通讯录中的一条记录。
type Contact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Notes   string `json:"notes,omitempty"`
}

// BlobStore 抽象密文的上传与下载。
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, blobID string) ([]byte, error)
}

// Index 记录账户当前对应的 blob ID。索引只是提示信息，丢失时通讯录视为空。
type Index interface {
	Get(ctx context.Context, account string) (string, bool, error)
	Set(ctx context.Context, account, blobID string) error
	Delete(ctx context.Context, account string) error
}

// Store 组合 BlobStore 与 Index 实现通讯录的保存与读取。
type Store struct {
	blobs BlobStore
	index Index
	codec codec
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*accountLock
}

// accountLock 串行化同一账户的读改写，refs 归零时从 locks 中移除。
type accountLock struct {
	sync.Mutex
	refs int
}

// Option 自定义 Store 行为。
type Option func(*Store)

// WithRandom 替换生成 nonce 的随机源。
func WithRandom(r io.Reader) Option {
	return func(s *Store) {
		if r != nil {
			s.codec.random = r
		}
	}
}

// New 创建通讯录存储，secret 为空时拒绝创建。
func New(blobs BlobStore, index Index, secret string, opts ...Option) (*Store, error) {
	if blobs == nil || index == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "通讯录存储未配置")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "contacts.secret_key 不能为空")
	}
	s := &Store{
		blobs: blobs,
		index: index,
		codec: codec{secret: secret, random: defaultRandom()},
		log:   logger.Named("contactstore"),
		locks: make(map[string]*accountLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save 将联系人追加到账户的通讯录并重新上传，返回新的 blob ID。
func (s *Store) Save(ctx context.Context, account string, contact Contact) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", xerrors.New(xerrors.CodeMissingAccount, "User address is required")
	}
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Address = strings.TrimSpace(contact.Address)
	if contact.Name == "" || contact.Address == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "Contact name and address are required")
	}

	unlock := s.lockAccount(account)
	defer unlock()

	contacts, err := s.load(ctx, account)
	if err != nil {
		return "", err
	}
	contacts = append(contacts, contact)

	blob, err := s.codec.seal(account, contacts)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "加密通讯录失败")
	}
	blobID, err := s.blobs.Put(ctx, blob)
	if err != nil {
		return "", err
	}
	if err := s.index.Set(ctx, account, blobID); err != nil {
		return "", err
	}
	s.log.Info("通讯录已更新", "account", account, "blob_id", blobID, "contacts", len(contacts))
	return blobID, nil
}

// List 返回账户的全部联系人，未保存过时返回空列表。
func (s *Store) List(ctx context.Context, account string) ([]Contact, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, xerrors.New(xerrors.CodeMissingAccount, "User address is required")
	}
	return s.load(ctx, account)
}

// load 读取当前通讯录。blob 已失效或无法解密时清理索引并返回空列表。
func (s *Store) load(ctx context.Context, account string) ([]Contact, error) {
	blobID, ok, err := s.index.Get(ctx, account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Contact{}, nil
	}
	blob, err := s.blobs.Get(ctx, blobID)
	if err != nil {
		if !xerrors.HasCode(err, xerrors.CodeNotFound) {
			return nil, err
		}
		s.dropStale(ctx, account, blobID, "blob 不存在")
		return []Contact{}, nil
	}
	contacts, err := s.codec.open(account, blob)
	if err != nil {
		s.dropStale(ctx, account, blobID, err.Error())
		return []Contact{}, nil
	}
	return contacts, nil
}

func (s *Store) dropStale(ctx context.Context, account, blobID, reason string) {
	s.log.Warn("丢弃失效的通讯录索引", "account", account, "blob_id", blobID, "reason", reason)
	if err := s.index.Delete(ctx, account); err != nil {
		s.log.Warn("清理通讯录索引失败", "account", account, "error", err)
	}
}

func (s *Store) lockAccount(account string) func() {
	key := strings.ToLower(account)
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &accountLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
