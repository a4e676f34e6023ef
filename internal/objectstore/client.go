// Package objectstore はS3互換オブジェクトストレージ（Cloudflare R2）のクライアントを提供する。
// リクエストはAWS Signature Version 4で署名する。
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	signingService = "s3"
	// maxErrorBody はエラー時にログへ残すレスポンスボディの最大長。
	maxErrorBody = 512
)

// Config はオブジェクトストレージクライアントの設定。
type Config struct {
	Endpoint        string // 例: https://<account>.r2.cloudflarestorage.com
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string // R2は "auto"
	PublicURL       string // 公開読み取り用のベースURL

	// 読み取り系リクエストの再試行設定。0の場合はデフォルト値を使う。
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// StatusError は2xx以外のレスポンスを表す。
type StatusError struct {
	Op         string
	Key        string
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Key, e.StatusCode, e.Body)
}

// IsNotFound はエラーがオブジェクト未検出（404）かを返す。
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client はS3互換APIのクライアント。
// 書き込み系（PUT/DELETE）は再試行しない。読み取り系（GET/LIST）のみ429/5xxで再試行する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
	signer     *v4.Signer
	now        func() time.Time // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	if config.Region == "" {
		config.Region = "auto"
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaultRetryBaseDelay
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		signer: v4.NewSigner(func(o *v4.SignerOptions) {
			o.DisableURIPathEscaping = true
		}),
		now: time.Now,
	}
}

// GetObject は署名付きGETでオブジェクトを取得する。
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	return c.doWithRetry(ctx, "GetObject", key, func() (*http.Request, error) {
		return c.newSignedRequest(ctx, http.MethodGet, c.objectURL(key), nil, "")
	})
}

// GetPublicObject は公開URLから署名なしでオブジェクトを取得する。
func (c *Client) GetPublicObject(ctx context.Context, key string) ([]byte, error) {
	return c.doWithRetry(ctx, "GetPublicObject", key, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.config.PublicURL+"/"+url.PathEscape(key), nil)
	})
}

// PutObject は署名付きPUTでオブジェクトを保存する。
func (c *Client) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	req, err := c.newSignedRequest(ctx, http.MethodPut, c.objectURL(key), body, contentType)
	if err != nil {
		return err
	}
	_, err = c.do(req, "PutObject", key)
	return err
}

// DeleteObject は署名付きDELETEでオブジェクトを削除する。
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	req, err := c.newSignedRequest(ctx, http.MethodDelete, c.objectURL(key), nil, "")
	if err != nil {
		return err
	}
	_, err = c.do(req, "DeleteObject", key)
	return err
}

// listBucketResult はListObjectsV2のレスポンス。
type listBucketResult struct {
	Contents []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
}

// ListKeys はprefixで始まるオブジェクトキーを列挙する。
// レスポンスが分割されている場合は継続トークンをたどってすべて取得する。
func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""

	for {
		q := url.Values{}
		q.Set("list-type", "2")
		q.Set("prefix", prefix)
		if token != "" {
			q.Set("continuation-token", token)
		}
		listURL := c.bucketURL() + "?" + q.Encode()

		body, err := c.doWithRetry(ctx, "ListObjects", prefix, func() (*http.Request, error) {
			return c.newSignedRequest(ctx, http.MethodGet, listURL, nil, "")
		})
		if err != nil {
			return nil, err
		}

		var result listBucketResult
		if err := xml.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to parse list response: %w", err)
		}
		for _, obj := range result.Contents {
			keys = append(keys, obj.Key)
		}

		if !result.IsTruncated || result.NextContinuationToken == "" {
			return keys, nil
		}
		token = result.NextContinuationToken
	}
}

func (c *Client) bucketURL() string {
	return c.config.Endpoint + "/" + url.PathEscape(c.config.Bucket)
}

func (c *Client) objectURL(key string) string {
	return c.bucketURL() + "/" + url.PathEscape(key)
}

// newSignedRequest はSigV4で署名したリクエストを生成する。
// host, x-amz-date, x-amz-content-sha256 が署名対象ヘッダーになる。
func (c *Client) newSignedRequest(ctx context.Context, method, rawURL string, body []byte, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	creds := aws.Credentials{
		AccessKeyID:     c.config.AccessKeyID,
		SecretAccessKey: c.config.SecretAccessKey,
	}
	if err := c.signer.SignHTTP(ctx, creds, req, payloadHash, signingService, c.config.Region, c.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return req, nil
}

// doWithRetry は冪等な読み取りリクエストを再試行付きで実行する。
// 再試行のたびにnewRequestでリクエストを作り直す（署名時刻を更新するため）。
func (c *Client) doWithRetry(ctx context.Context, op, key string, newRequest func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, retryDelay(c.config.RetryBaseDelay, attempt-1)); err != nil {
				return nil, fmt.Errorf("%s %s: %w", op, key, err)
			}
		}

		req, err := newRequest()
		if err != nil {
			return nil, err
		}

		body, err := c.do(req, op, key)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && ClassifyStatus(se.StatusCode) != StatusClassRetryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}

		c.logger.Warn("object store request failed, retrying",
			slog.String("op", op),
			slog.String("key", key),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return nil, lastErr
}

// do はリクエストを1回実行し、2xxならボディを返す。
func (c *Client) do(req *http.Request, op, key string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: request failed: %w", op, key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", op, key, err)
	}

	if ClassifyStatus(resp.StatusCode) != StatusClassOK {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &StatusError{Op: op, Key: key, StatusCode: resp.StatusCode, Body: snippet}
	}

	return body, nil
}
