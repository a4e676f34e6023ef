// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind はエラーの分類を表す。HTTPステータスへの対応は固定表で決まる。
type ErrorKind string

const (
	KindInputInvalid     ErrorKind = "input_invalid"
	KindUnauthenticated  ErrorKind = "unauthenticated"
	KindForbidden        ErrorKind = "forbidden"
	KindNotFound         ErrorKind = "not_found"
	KindMethodNotAllowed ErrorKind = "method_not_allowed"
	KindUpstreamFailure  ErrorKind = "upstream_failure"
	KindInternal         ErrorKind = "internal"
)

var kindStatus = map[ErrorKind]int{
	KindInputInvalid:     http.StatusBadRequest,
	KindUnauthenticated:  http.StatusUnauthorized,
	KindForbidden:        http.StatusForbidden,
	KindNotFound:         http.StatusNotFound,
	KindMethodNotAllowed: http.StatusMethodNotAllowed,
	KindUpstreamFailure:  http.StatusBadGateway,
	KindInternal:         http.StatusInternalServerError,
}

// AppError は分類付きのエラー。Messageはそのままレスポンスの error フィールドになる。
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error // ログ用の原因。レスポンスには含めない
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode はKindに対応するHTTPステータスを返す。
func (e *AppError) StatusCode() int {
	if code, ok := kindStatus[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// StatusOf はエラーに対応するHTTPステータスを返す。
// AppError以外は500として扱う。
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// KindOf はエラーのKindを返す。AppError以外はKindInternal。
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// NewInputInvalidError は入力不正エラーを生成する。
func NewInputInvalidError(message string) *AppError {
	return &AppError{Kind: KindInputInvalid, Message: message}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError(message string) *AppError {
	return &AppError{Kind: KindUnauthenticated, Message: message}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(message string) *AppError {
	return &AppError{Kind: KindForbidden, Message: message}
}

// NewNotFoundError は対象未検出エラーを生成する。
func NewNotFoundError(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message}
}

// NewMethodNotAllowedError はメソッド不許可エラーを生成する。
func NewMethodNotAllowedError() *AppError {
	return &AppError{Kind: KindMethodNotAllowed, Message: "Method not allowed"}
}

// NewUpstreamError は外部サービス呼び出しの失敗を表すエラーを生成する。
func NewUpstreamError(message string, err error) *AppError {
	return &AppError{Kind: KindUpstreamFailure, Message: message, Err: err}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}
