package biz

import (
	"context"
	"time"
)

// backoff 指数退避，封顶 max
type backoff struct {
	base time.Duration
	max  time.Duration
}

// delay 第 n 次失败（从 1 开始）后的等待时长
func (b backoff) delay(n int) time.Duration {
	if n < 1 || b.base <= 0 {
		return 0
	}
	d := b.base
	for i := 1; i < n; i++ {
		d *= 2
		if b.max > 0 && d >= b.max {
			return b.max
		}
	}
	if b.max > 0 && d > b.max {
		return b.max
	}
	return d
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retry 最多执行 attempts 次，仅对 retryable 的错误退避重试
func retry(ctx context.Context, attempts int, b backoff, sleep sleepFunc, retryable func(error) bool, onRetry func(n int, err error), fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(); err == nil {
			return nil
		}
		if n == attempts || !retryable(err) {
			return err
		}
		if onRetry != nil {
			onRetry(n, err)
		}
		if sleepErr := sleep(ctx, b.delay(n)); sleepErr != nil {
			return err
		}
	}
	return err
}
