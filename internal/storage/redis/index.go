package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "OpenMCP-Sui/internal/errors"
)

const defaultPrefix = "openmcp:contacts:"

// IndexConfig 描述 Redis 索引的连接参数。
type IndexConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Index 使用 Redis 字符串键保存账户对应的 blob ID。
type Index struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewIndex 创建并探活 Redis 索引。
func NewIndex(ctx context.Context, cfg IndexConfig) (*Index, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return NewIndexWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewIndexWithClient 复用已有的 Redis 客户端。
func NewIndexWithClient(client *goredis.Client, prefix string, ttl time.Duration) *Index {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Index{client: client, prefix: prefix, ttl: ttl}
}

func (i *Index) key(account string) string {
	return i.prefix + strings.ToLower(strings.TrimSpace(account))
}

// Get 读取账户的 blob ID，键不存在时返回 false。
func (i *Index) Get(ctx context.Context, account string) (string, bool, error) {
	id, err := i.client.Get(ctx, i.key(account)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取通讯录索引失败")
	}
	return id, true, nil
}

// Set 写入账户的 blob ID，TTL 为 0 时永不过期。
func (i *Index) Set(ctx context.Context, account, blobID string) error {
	if err := i.client.Set(ctx, i.key(account), blobID, i.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入通讯录索引失败")
	}
	return nil
}

// Delete 删除账户的索引记录。
func (i *Index) Delete(ctx context.Context, account string) error {
	if err := i.client.Del(ctx, i.key(account)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除通讯录索引失败")
	}
	return nil
}

// Close 释放 Redis 连接。
func (i *Index) Close() error {
	return i.client.Close()
}
