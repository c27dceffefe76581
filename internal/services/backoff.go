package services

import (
	"context"
	"time"

	"github.com/tianxingj2021/wangge/internal/domain"
)

// retryPolicy 指数退避重试策略
type retryPolicy struct {
	MaxAttempts int           // 总尝试次数（含首次）
	Base        time.Duration // 首次重试等待
	Cap         time.Duration // 等待上限
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		MaxAttempts: 3,
		Base:        time.Second,
		Cap:         60 * time.Second,
	}
}

// retryTransient 执行 fn，仅对瞬时网络错误按指数退避重试
// 拒绝类错误立即返回，ctx 取消时中断等待
func retryTransient(ctx context.Context, policy retryPolicy, fn func() error) error {
	wait := policy.Base
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !domain.Retryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > policy.Cap {
			wait = policy.Cap
		}
	}
}
