package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/constants"
	"caseprint-service/internal/data/model"
	caseErrors "caseprint-service/internal/errors"
	"caseprint-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
)

const (
	recordLockExpiry     = 10 * time.Second
	recordLockTries      = 40
	recordLockRetryDelay = 50 * time.Millisecond
)

// recordRepo 关联记录存储：每条记录一个 JSON key，未终结记录的关联ID放在 active 集合
// 同一关联ID的读改写先取进程内锁，再取 redsync 分布式锁
type recordRepo struct {
	data    *Data
	log     *log.Helper
	metrics *metrics.PartnerMetrics
	locks   *keyedMutex
}

// NewRecordRepo 创建关联记录 repo（返回 biz.RecordRepo 接口）
func NewRecordRepo(data *Data, logger log.Logger) biz.RecordRepo {
	return &recordRepo{
		data:    data,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		locks:   newKeyedMutex(),
	}
}

// withLock 按关联ID串行化
func (r *recordRepo) withLock(ctx context.Context, correlationID string, fn func() error) error {
	unlock := r.locks.Lock(correlationID)
	defer unlock()

	if r.data.rs != nil {
		lockStartTime := time.Now()
		mutex := r.data.rs.NewMutex(constants.RedisKeyRecordLock+correlationID,
			redsync.WithExpiry(recordLockExpiry),
			redsync.WithTries(recordLockTries),
			redsync.WithRetryDelay(recordLockRetryDelay),
		)
		if err := mutex.LockContext(ctx); err != nil {
			r.metrics.LockAcquireTotal.WithLabelValues(constants.ResultFailed).Inc()
			r.metrics.LockAcquireDuration.Observe(time.Since(lockStartTime).Seconds())
			return fmt.Errorf("lock record %s: %w", correlationID, err)
		}
		r.metrics.LockAcquireTotal.WithLabelValues(constants.ResultSuccess).Inc()
		r.metrics.LockAcquireDuration.Observe(time.Since(lockStartTime).Seconds())
		defer func() {
			if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
				r.log.Warnf("Failed to unlock record: correlation_id=%s, error=%v", correlationID, err)
			}
		}()
	}
	return fn()
}

// ========== 支付意向 ==========

// CreatePayment 新建支付意向，关联ID冲突时返回 biz.ErrCorrelationIDTaken
func (r *recordRepo) CreatePayment(ctx context.Context, p *biz.PaymentIntent) error {
	b, err := json.Marshal(toPaymentModel(p))
	if err != nil {
		return err
	}
	ok, err := r.data.rdb.SetNX(ctx, constants.RedisKeyPayment+p.CorrelationID, b, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return biz.ErrCorrelationIDTaken
	}
	if p.Active() {
		return r.data.rdb.SAdd(ctx, constants.RedisKeyActivePayments, p.CorrelationID).Err()
	}
	return nil
}

// GetPayment 获取支付意向，不存在时返回 nil, nil
func (r *recordRepo) GetPayment(ctx context.Context, correlationID string) (*biz.PaymentIntent, error) {
	b, err := r.data.rdb.Get(ctx, constants.RedisKeyPayment+correlationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var m model.PaymentIntent
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", correlationID, err)
	}
	return toPaymentIntent(&m), nil
}

// UpdatePayment 在记录锁内读取、修改、写回；回调返回 biz.ErrSkipSave 时不写回
func (r *recordRepo) UpdatePayment(ctx context.Context, correlationID string, fn func(p *biz.PaymentIntent) error) (*biz.PaymentIntent, error) {
	var out *biz.PaymentIntent
	err := r.withLock(ctx, correlationID, func() error {
		p, err := r.GetPayment(ctx, correlationID)
		if err != nil {
			return err
		}
		if p == nil {
			return caseErrors.RecordNotFound(correlationID)
		}
		if err := fn(p); err != nil {
			if errors.Is(err, biz.ErrSkipSave) {
				out = p
				return nil
			}
			return err
		}
		if err := r.savePayment(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// savePayment 写回记录并维护 active 集合；不再跟踪的记录按保留期过期
func (r *recordRepo) savePayment(ctx context.Context, p *biz.PaymentIntent) error {
	b, err := json.Marshal(toPaymentModel(p))
	if err != nil {
		return err
	}
	key := constants.RedisKeyPayment + p.CorrelationID
	_, err = r.data.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if p.Active() {
			pipe.Set(ctx, key, b, 0)
			pipe.SAdd(ctx, constants.RedisKeyActivePayments, p.CorrelationID)
		} else {
			pipe.Set(ctx, key, b, r.data.retention)
			pipe.SRem(ctx, constants.RedisKeyActivePayments, p.CorrelationID)
		}
		return nil
	})
	return err
}

// ListActivePayments 列出仍需对账的支付意向
func (r *recordRepo) ListActivePayments(ctx context.Context) ([]*biz.PaymentIntent, error) {
	ids, err := r.data.rdb.SMembers(ctx, constants.RedisKeyActivePayments).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := r.data.rdb.MGet(ctx, prefixed(constants.RedisKeyPayment, ids)...).Result()
	if err != nil {
		return nil, err
	}
	list := make([]*biz.PaymentIntent, 0, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			r.dropStale(ctx, constants.RedisKeyActivePayments, ids[i])
			continue
		}
		var m model.PaymentIntent
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			r.log.Errorf("decode active payment failed: correlation_id=%s, error=%v", ids[i], err)
			continue
		}
		list = append(list, toPaymentIntent(&m))
	}
	return list, nil
}

// ========== 订单 ==========

// CreateOrder 新建订单记录，关联ID冲突时返回 biz.ErrCorrelationIDTaken
func (r *recordRepo) CreateOrder(ctx context.Context, o *biz.OrderRecord) error {
	b, err := json.Marshal(toOrderModel(o))
	if err != nil {
		return err
	}
	ok, err := r.data.rdb.SetNX(ctx, constants.RedisKeyOrder+o.CorrelationID, b, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return biz.ErrCorrelationIDTaken
	}
	if o.Active() {
		return r.data.rdb.SAdd(ctx, constants.RedisKeyActiveOrders, o.CorrelationID).Err()
	}
	return nil
}

// GetOrder 获取订单，不存在时返回 nil, nil
func (r *recordRepo) GetOrder(ctx context.Context, correlationID string) (*biz.OrderRecord, error) {
	b, err := r.data.rdb.Get(ctx, constants.RedisKeyOrder+correlationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var m model.OrderRecord
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", correlationID, err)
	}
	return toOrderRecord(&m), nil
}

// UpdateOrder 在记录锁内读取、修改、写回；回调返回 biz.ErrSkipSave 时不写回
func (r *recordRepo) UpdateOrder(ctx context.Context, correlationID string, fn func(o *biz.OrderRecord) error) (*biz.OrderRecord, error) {
	var out *biz.OrderRecord
	err := r.withLock(ctx, correlationID, func() error {
		o, err := r.GetOrder(ctx, correlationID)
		if err != nil {
			return err
		}
		if o == nil {
			return caseErrors.RecordNotFound(correlationID)
		}
		if err := fn(o); err != nil {
			if errors.Is(err, biz.ErrSkipSave) {
				out = o
				return nil
			}
			return err
		}
		if err := r.saveOrder(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *recordRepo) saveOrder(ctx context.Context, o *biz.OrderRecord) error {
	b, err := json.Marshal(toOrderModel(o))
	if err != nil {
		return err
	}
	key := constants.RedisKeyOrder + o.CorrelationID
	_, err = r.data.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if o.Active() {
			pipe.Set(ctx, key, b, 0)
			pipe.SAdd(ctx, constants.RedisKeyActiveOrders, o.CorrelationID)
		} else {
			pipe.Set(ctx, key, b, r.data.retention)
			pipe.SRem(ctx, constants.RedisKeyActiveOrders, o.CorrelationID)
		}
		return nil
	})
	return err
}

// ListActiveOrders 列出仍需对账的订单
func (r *recordRepo) ListActiveOrders(ctx context.Context) ([]*biz.OrderRecord, error) {
	ids, err := r.data.rdb.SMembers(ctx, constants.RedisKeyActiveOrders).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := r.data.rdb.MGet(ctx, prefixed(constants.RedisKeyOrder, ids)...).Result()
	if err != nil {
		return nil, err
	}
	list := make([]*biz.OrderRecord, 0, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			r.dropStale(ctx, constants.RedisKeyActiveOrders, ids[i])
			continue
		}
		var m model.OrderRecord
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			r.log.Errorf("decode active order failed: correlation_id=%s, error=%v", ids[i], err)
			continue
		}
		list = append(list, toOrderRecord(&m))
	}
	return list, nil
}

// dropStale 记录已不存在时清理 active 集合
func (r *recordRepo) dropStale(ctx context.Context, setKey, correlationID string) {
	if err := r.data.rdb.SRem(ctx, setKey, correlationID).Err(); err != nil {
		r.log.Warnf("remove stale active id failed: correlation_id=%s, error=%v", correlationID, err)
	}
}

func prefixed(prefix string, ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = prefix + id
	}
	return keys
}
