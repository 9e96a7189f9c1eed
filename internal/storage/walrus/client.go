// Package walrus 通过 Walrus publisher 与 aggregator 的 HTTP 接口读写 blob。
package walrus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/observability/metrics"
)

const (
	defaultEpochs  = 5
	defaultTimeout = 30 * time.Second
	maxBlobSize    = 10 << 20
)

// Config 描述 Walrus 服务地址。
type Config struct {
	PublisherURL  string
	AggregatorURL string
	Epochs        int
	Timeout       time.Duration
}

// Client 实现 contactstore.BlobStore。
type Client struct {
	publisher  string
	aggregator string
	epochs     int
	httpClient *http.Client
}

// NewClient 校验地址并创建客户端。
func NewClient(cfg Config) (*Client, error) {
	publisher := strings.TrimRight(strings.TrimSpace(cfg.PublisherURL), "/")
	aggregator := strings.TrimRight(strings.TrimSpace(cfg.AggregatorURL), "/")
	if publisher == "" || aggregator == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Walrus publisher 与 aggregator 地址不能为空")
	}
	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = defaultEpochs
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		publisher:  publisher,
		aggregator: aggregator,
		epochs:     epochs,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// storeResponse 覆盖 publisher 的两种成功返回。
type storeResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
}

func (r storeResponse) blobID() string {
	switch {
	case r.NewlyCreated != nil:
		return r.NewlyCreated.BlobObject.BlobID
	case r.AlreadyCertified != nil:
		return r.AlreadyCertified.BlobID
	default:
		return ""
	}
}

// Put 上传 blob 并返回 blob ID。
func (c *Client) Put(ctx context.Context, data []byte) (blobID string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveLedgerCall("walrus_put", time.Since(start), err) }()

	endpoint := c.publisher + "/v1/blobs?epochs=" + strconv.Itoa(c.epochs)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "构造 Walrus 请求失败")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var resp storeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 Walrus 响应失败")
	}
	id := resp.blobID()
	if id == "" {
		return "", xerrors.New(xerrors.CodeStorageFailure, "Walrus 响应缺少 blobId")
	}
	return id, nil
}

// Get 按 blob ID 下载内容，blob 不存在时返回 CodeNotFound。
func (c *Client) Get(ctx context.Context, blobID string) (data []byte, err error) {
	start := time.Now()
	defer func() { metrics.ObserveLedgerCall("walrus_get", time.Since(start), err) }()

	if strings.TrimSpace(blobID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "blob ID 不能为空")
	}
	endpoint := c.aggregator + "/v1/blobs/" + url.PathEscape(blobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "构造 Walrus 请求失败")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "Walrus 请求超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Walrus 请求失败")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Walrus 响应失败")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, xerrors.New(xerrors.CodeNotFound, "blob 不存在",
			xerrors.WithMetadata("url", req.URL.String()))
	case resp.StatusCode >= 300:
		return nil, xerrors.New(xerrors.CodeStorageFailure,
			fmt.Sprintf("Walrus 返回状态码 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	}
	return body, nil
}
