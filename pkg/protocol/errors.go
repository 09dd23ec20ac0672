package protocol

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransportUnavailable
	KindInvalidState
	KindInvalidConfiguration
	KindInvalidArgument
	KindScenarioLoadFailed
	KindFirmwareEraseFailed
)

func (k Kind) String() string {
	switch k {
	case KindTransportUnavailable:
		return "transport unavailable"
	case KindInvalidState:
		return "invalid state"
	case KindInvalidConfiguration:
		return "invalid configuration"
	case KindInvalidArgument:
		return "invalid argument"
	case KindScenarioLoadFailed:
		return "scenario load failed"
	case KindFirmwareEraseFailed:
		return "firmware erase failed"
	default:
		return "unknown error"
	}
}

// 用于 errors.Is 的哨兵错误
var (
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrScenarioLoadFailed   = &Error{Kind: KindScenarioLoadFailed}
	ErrFirmwareEraseFailed  = &Error{Kind: KindFirmwareEraseFailed}
)

// Error 控制操作的结果错误
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError 创建带类别的错误
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf 按格式创建带类别的错误
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按类别匹配；InvalidArgument 同时属于 InvalidConfiguration
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	return e.Kind == KindInvalidArgument && t.Kind == KindInvalidConfiguration
}

// KindOf 返回错误链中第一个带类别错误的类别
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
