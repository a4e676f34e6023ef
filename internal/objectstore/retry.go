package objectstore

import (
	"context"
	"time"
)

// StatusClass はHTTPステータスコードに基づくレスポンスの分類。
type StatusClass int

const (
	// StatusClassOK は成功（2xx）。
	StatusClassOK StatusClass = iota
	// StatusClassRetryable は一時的な失敗（429/5xx）。
	StatusClassRetryable
	// StatusClassFatal は再試行しても結果が変わらない失敗。
	StatusClassFatal
)

const (
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	maxRetryDelay         = 2 * time.Second
)

// ClassifyStatus はHTTPステータスコードを分類する。
func ClassifyStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClassOK
	case statusCode == 429:
		return StatusClassRetryable
	case statusCode >= 500:
		return StatusClassRetryable
	default:
		return StatusClassFatal
	}
}

// retryDelay は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回base、2倍ずつ増加、最大2秒。
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// sleepContext はdの間待機する。コンテキストがキャンセルされた場合はその時点で戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
