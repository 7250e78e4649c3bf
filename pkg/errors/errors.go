// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeInvalidMessage 無法解碼的客戶端訊息
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	// ErrCodeUnsupportedVersion 快照版本不支援
	ErrCodeUnsupportedVersion = "UNSUPPORTED_VERSION"
	// ErrCodeCorruptSnapshot 快照內容損毀
	ErrCodeCorruptSnapshot = "CORRUPT_SNAPSHOT"
	// ErrCodeUnavailable 後端不可用
	ErrCodeUnavailable = "UNAVAILABLE"
	// ErrCodeInvalidConfig 配置錯誤
	ErrCodeInvalidConfig = "INVALID_CONFIG"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓 errors.Is(err, ErrUnsupportedVersion) 成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳附帶詳細資訊的副本，預定義錯誤不會被修改
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrInvalidMessage     = New(ErrCodeInvalidMessage, "invalid message")
	ErrUnsupportedVersion = New(ErrCodeUnsupportedVersion, "unsupported snapshot version")
	ErrCorruptSnapshot    = New(ErrCodeCorruptSnapshot, "corrupt snapshot")
	ErrBackendUnavailable = New(ErrCodeUnavailable, "snapshot backend unavailable")
	ErrInvalidConfig      = New(ErrCodeInvalidConfig, "invalid config")
)

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsInvalidMessage 檢查是否為訊息解碼錯誤
func IsInvalidMessage(err error) bool {
	return hasCode(err, ErrCodeInvalidMessage)
}

// IsUnsupportedVersion 檢查是否為快照版本錯誤
func IsUnsupportedVersion(err error) bool {
	return hasCode(err, ErrCodeUnsupportedVersion)
}

// IsCorruptSnapshot 檢查是否為快照損毀錯誤
func IsCorruptSnapshot(err error) bool {
	return hasCode(err, ErrCodeCorruptSnapshot)
}

// IsUnavailable 檢查是否為後端不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsInvalidConfig 檢查是否為配置錯誤
func IsInvalidConfig(err error) bool {
	return hasCode(err, ErrCodeInvalidConfig)
}
