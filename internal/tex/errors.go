package tex

import (
	"fmt"
	"time"
)

// Error はクライアントに提示可能な変換エラーを表します。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError は Error を作成します。
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// アーカイブ検証が失敗した理由を表すコード。
const (
	ReasonBadArchive     = "bad_archive"
	ReasonSuspiciousPath = "suspicious_path"
	ReasonEntryTooLarge  = "entry_too_large"
)

// SanitizeError はアップロードされたアーカイブの検証失敗を表します。
type SanitizeError struct {
	Reason string
	Path   string
	Err    error
}

func (e *SanitizeError) Error() string {
	switch e.Reason {
	case ReasonSuspiciousPath:
		return fmt.Sprintf("Suspicious path detected: %s", e.Path)
	case ReasonEntryTooLarge:
		return fmt.Sprintf("File too large: %s", e.Path)
	default:
		return "Invalid ZIP file format"
	}
}

func (e *SanitizeError) Unwrap() error { return e.Err }

// TimeoutError は外部コマンドが制限時間内に終了しなかったことを表します。
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Command timed out after %d seconds: %s", int(e.Timeout.Seconds()), e.Command)
}
