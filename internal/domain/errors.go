package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类
// 调用方按分类决定处理方式：瞬时错误重试，拒绝类错误停止重试，
// 状态过期触发对账。
type ErrorKind string

const (
	ErrTransientNetwork     ErrorKind = "transient_network"     // 网络瞬时错误（超时、连接失败、5xx），可重试
	ErrExchangeRejection    ErrorKind = "exchange_rejection"    // 交易所明确拒绝（参数非法、精度不符），重试无意义
	ErrInsufficientBalance  ErrorKind = "insufficient_balance"  // 余额不足
	ErrStaleState           ErrorKind = "stale_state"           // 本地订单状态与交易所不一致
	ErrStrategyNotFound     ErrorKind = "strategy_not_found"    // 策略实例不存在
	ErrInvalidConfiguration ErrorKind = "invalid_configuration" // 配置非法
)

// Error 带分类的领域错误
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 向下穿透
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建分类错误
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError 包装底层错误并标注分类
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf 提取错误分类，无法识别时返回空串
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind 检查错误是否属于指定分类
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable 检查错误是否值得重试
// 只有网络瞬时错误重试有意义，拒绝/余额不足重试只会重复失败
func Retryable(err error) bool {
	return IsKind(err, ErrTransientNetwork)
}
