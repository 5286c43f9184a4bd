package domain

import (
	"errors"
	"fmt"
)

// 错误分类（调用方用 errors.Is 判断）
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrStore           = errors.New("store error")
	ErrExportEmpty     = errors.New("export empty")
	ErrUnauthorized    = errors.New("unauthorized")
)

// Error 携带分类 + 可读信息 + 原始错误
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Msg: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func ExportEmpty(format string, args ...any) error {
	return &Error{Kind: ErrExportEmpty, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Kind: ErrUnauthorized, Msg: fmt.Sprintf(format, args...)}
}

// Store 包装存储层错误，保留原始 cause
func Store(msg string, err error) error {
	return &Error{Kind: ErrStore, Msg: msg, Err: err}
}

// IsDomain 判断是否为业务规则错误（非基础设施故障）
func IsDomain(err error) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Kind != ErrStore
}

// Message 返回可以给客户端看的信息（不含底层 cause）
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Msg != "" {
		return de.Msg
	}
	return err.Error()
}
