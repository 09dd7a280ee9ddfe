package data

import (
	"context"
	"errors"
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// tickLocker 多实例部署时同一时刻只有一个实例执行对账 tick
type tickLocker struct {
	data   *Data
	expiry time.Duration
	log    *log.Helper
}

// NewTickLocker 创建 tick 主锁，锁过期时间与 tick 超时一致
func NewTickLocker(data *Data, rc *biz.ReconcilerConfig, logger log.Logger) biz.TickLocker {
	expiry := rc.TickTimeout
	if expiry <= 0 {
		expiry = time.Minute
	}
	return &tickLocker{
		data:   data,
		expiry: expiry,
		log:    log.NewHelper(logger),
	}
}

// TryLock 只尝试一次，已被其他实例持有时返回 ok=false
func (l *tickLocker) TryLock(ctx context.Context) (func(), bool, error) {
	mutex := l.data.rs.NewMutex(constants.RedisKeyTickLock,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, err
	}
	unlock := func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.log.Warnf("Failed to release tick lock: %v", err)
		}
	}
	return unlock, true, nil
}
