package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter 对上游归档服务的全局限速器。
// 所有出站请求共享同一实例，保证任意两次请求间隔不小于配置值。
type Limiter struct {
	limiter *rate.Limiter
}

// New 创建限速器，interval 为两次请求的最小间隔。
// interval <= 0 时不限速。
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait 阻塞直到允许下一次请求；ctx 取消时返回其错误
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow 非阻塞探测，仅用于诊断
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}
