package biz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"caseprint-service/internal/constants"
	caseErrors "caseprint-service/internal/errors"
	"caseprint-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// TickLocker 对账主锁，多副本部署时同一时刻只有一个副本执行 tick
type TickLocker interface {
	// TryLock 未抢到锁时 ok=false
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

type pollBackoff struct {
	failures int
	next     time.Time
}

// StatusReconciler 以推送为主、轮询兜底，使本地记录与合作方状态一致
type StatusReconciler struct {
	client  *OrderPaymentClient
	repo    RecordRepo
	trail   *StatusTrail
	locker  TickLocker
	conf    *ReconcilerConfig
	log     *log.Helper
	metrics *metrics.PartnerMetrics

	mu       sync.Mutex
	pushed   map[string]struct{}     // 上次 tick 之后由推送更新过的关联ID
	backoffs map[string]*pollBackoff // 按关联ID的失败退避

	now func() time.Time
}

// NewStatusReconciler 创建 StatusReconciler，locker 可为 nil
func NewStatusReconciler(client *OrderPaymentClient, repo RecordRepo, trail *StatusTrail, locker TickLocker, conf *ReconcilerConfig, logger log.Logger) *StatusReconciler {
	return &StatusReconciler{
		client:   client,
		repo:     repo,
		trail:    trail,
		locker:   locker,
		conf:     conf,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
		pushed:   make(map[string]struct{}),
		backoffs: make(map[string]*pollBackoff),
		now:      time.Now,
	}
}

// AcceptPaymentNotifications 推送入口：立即应用并登记，下次 tick 处理后续动作
func (r *StatusReconciler) AcceptPaymentNotifications(ctx context.Context, notes []*PaymentNotification) *NotifyResult {
	res := r.client.NotifyPaymentResult(ctx, notes)
	r.markPushed(res.Applied)
	return res
}

// AcceptOrderNotifications 订单推送入口
func (r *StatusReconciler) AcceptOrderNotifications(ctx context.Context, notes []*OrderNotification) *NotifyResult {
	res := r.client.NotifyOrderResult(ctx, notes)
	r.markPushed(res.Applied)
	return res
}

// Cancel 停止跟踪单条记录，不影响其他记录
func (r *StatusReconciler) Cancel(ctx context.Context, correlationID string) error {
	var err error
	switch {
	case strings.HasPrefix(correlationID, constants.CorrelationPrefixPayment):
		err = r.cancelPayment(ctx, correlationID)
	case strings.HasPrefix(correlationID, constants.CorrelationPrefixOrder):
		err = r.cancelOrder(ctx, correlationID)
	default:
		return caseErrors.UnknownCorrelationID(correlationID)
	}
	if err != nil {
		return err
	}
	r.forget(correlationID)
	r.log.WithContext(ctx).Infof("reconciliation cancelled: correlation_id=%s", correlationID)
	return nil
}

func (r *StatusReconciler) cancelPayment(ctx context.Context, id string) error {
	changed := false
	p, err := r.repo.UpdatePayment(ctx, id, func(p *PaymentIntent) error {
		if !p.Tracking {
			return ErrSkipSave
		}
		p.Tracking = false
		p.Diagnostic = "cancelled by user"
		p.UpdatedAt = r.now()
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		r.trail.PaymentChanged(ctx, p, p.Status, constants.StatusSourceCancel)
	}
	return nil
}

func (r *StatusReconciler) cancelOrder(ctx context.Context, id string) error {
	changed := false
	o, err := r.repo.UpdateOrder(ctx, id, func(o *OrderRecord) error {
		if !o.Tracking {
			return ErrSkipSave
		}
		o.Tracking = false
		o.Diagnostic = "cancelled by user"
		o.UpdatedAt = r.now()
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		r.trail.OrderChanged(ctx, o, o.Status, constants.StatusSourceCancel)
	}
	return nil
}

// Tick 执行一轮对账；凭证被拒绝时中止并返回错误
func (r *StatusReconciler) Tick(ctx context.Context) error {
	if r.locker != nil {
		unlock, ok, err := r.locker.TryLock(ctx)
		if err != nil {
			return fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !ok {
			r.log.WithContext(ctx).Debug("reconcile tick held by another replica, skipping")
			return nil
		}
		defer unlock()
	}

	start := time.Now()
	defer func() {
		r.metrics.ReconcileTickDuration.Observe(time.Since(start).Seconds())
	}()

	pushed := r.drainPushed()
	if err := r.reconcilePayments(ctx, pushed); err != nil {
		return err
	}
	return r.reconcileOrders(ctx, pushed)
}

// ========== 支付 ==========

func (r *StatusReconciler) reconcilePayments(ctx context.Context, pushed map[string]struct{}) error {
	list, err := r.repo.ListActivePayments(ctx)
	if err != nil {
		return fmt.Errorf("list active payments: %w", err)
	}
	r.metrics.ActiveRecords.WithLabelValues(constants.RecordKindPayment).Set(float64(len(list)))

	now := r.now()
	var due []*PaymentIntent
	for _, p := range list {
		if p.NeedsOrder() {
			if err := r.submitOrder(ctx, p); err != nil {
				return err
			}
			continue
		}
		if p.Status.IsTerminal() || !r.shouldPoll(p.CorrelationID, p.LastUpdateAt, pushed, now) {
			continue
		}
		due = append(due, p)
	}

	for _, batch := range chunk(due, r.conf.BatchSize) {
		if err := r.pollPayments(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// submitOrder 已收款的意向自动下单，重试沿用意向上登记的订单关联ID
func (r *StatusReconciler) submitOrder(ctx context.Context, p *PaymentIntent) error {
	_, err := r.client.SubmitOrder(ctx, p, p.ImageURL)
	switch {
	case err == nil:
		return nil
	case caseErrors.IsAuthenticationFailed(err):
		return err
	case caseErrors.IsPreconditionViolation(err):
		r.log.WithContext(ctx).Errorf("automatic order submission refused: correlation_id=%s, error=%v", p.CorrelationID, err)
	default:
		// 订单已创建但未送达时由订单对账重新提交
		r.log.WithContext(ctx).Warnf("automatic order submission failed: correlation_id=%s, error=%v", p.CorrelationID, err)
	}
	return nil
}

func (r *StatusReconciler) pollPayments(ctx context.Context, batch []*PaymentIntent) error {
	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.CorrelationID
	}
	statuses, err := r.client.PollPaymentStatus(ctx, ids)
	if err == nil {
		for _, p := range batch {
			s, ok := statuses[p.CorrelationID]
			if !ok {
				r.paymentPollFailed(ctx, p, fmt.Errorf("partner returned no status for %s", p.CorrelationID))
				continue
			}
			r.applyPaymentPoll(ctx, p, s)
		}
		return nil
	}
	if caseErrors.IsAuthenticationFailed(err) {
		return err
	}
	if ctx.Err() != nil {
		// tick 已超时，本轮未完成的轮询不计入失败
		return ctx.Err()
	}
	if len(batch) == 1 {
		r.paymentPollFailed(ctx, batch[0], err)
		return nil
	}

	// 批量失败时逐个查询，避免单个关联ID拖累其他记录
	r.log.WithContext(ctx).Warnf("batched payment poll failed, falling back to single polls: ids=%d, error=%v", len(ids), err)
	for _, p := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		single, err := r.client.PollPaymentStatus(ctx, []string{p.CorrelationID})
		if err != nil {
			if caseErrors.IsAuthenticationFailed(err) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.paymentPollFailed(ctx, p, err)
			continue
		}
		s, ok := single[p.CorrelationID]
		if !ok {
			r.paymentPollFailed(ctx, p, fmt.Errorf("partner returned no status for %s", p.CorrelationID))
			continue
		}
		r.applyPaymentPoll(ctx, p, s)
	}
	return nil
}

func (r *StatusReconciler) applyPaymentPoll(ctx context.Context, p *PaymentIntent, s PaymentStatus) {
	r.resetBackoff(p.CorrelationID)
	if _, _, err := r.client.ApplyPaymentStatus(ctx, p.CorrelationID, s, constants.StatusSourcePoll, nil); err != nil {
		r.log.WithContext(ctx).Errorf("apply polled payment status failed: correlation_id=%s, error=%v", p.CorrelationID, err)
	}
}

func (r *StatusReconciler) paymentPollFailed(ctx context.Context, p *PaymentIntent, cause error) {
	r.metrics.PollFailureTotal.WithLabelValues(constants.RecordKindPayment).Inc()
	failures, wait, exhausted := r.recordFailure(p.CorrelationID)
	if !exhausted {
		r.log.WithContext(ctx).Warnf("payment poll failed (%d/%d), next attempt in %s: correlation_id=%s, error=%v",
			failures, r.conf.MaxPollFailures, wait, p.CorrelationID, cause)
		return
	}

	diagnostic := fmt.Sprintf("status unknown after %d failed polls: %s", failures, caseErrors.Diagnostic(cause))
	var from PaymentStatus
	stalled, err := r.repo.UpdatePayment(ctx, p.CorrelationID, func(p *PaymentIntent) error {
		if !p.Active() {
			return ErrSkipSave
		}
		from = p.Status
		p.MarkStalled(diagnostic, r.now())
		p.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		r.log.WithContext(ctx).Errorf("mark payment stalled failed: correlation_id=%s, error=%v", p.CorrelationID, err)
		return
	}
	r.forget(p.CorrelationID)
	if !stalled.Stalled {
		return
	}
	r.metrics.StalledRecordTotal.WithLabelValues(constants.RecordKindPayment).Inc()
	r.log.WithContext(ctx).Errorf("payment needs operator attention: correlation_id=%s, last_known=%s, %s",
		stalled.CorrelationID, stalled.LastKnownStatus, diagnostic)
	r.trail.PaymentChanged(ctx, stalled, from, constants.StatusSourceStall)
}

// ========== 订单 ==========

func (r *StatusReconciler) reconcileOrders(ctx context.Context, pushed map[string]struct{}) error {
	list, err := r.repo.ListActiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("list active orders: %w", err)
	}
	r.metrics.ActiveRecords.WithLabelValues(constants.RecordKindOrder).Set(float64(len(list)))

	now := r.now()
	var due []*OrderRecord
	for _, o := range list {
		if !o.Submitted {
			if !r.isDue(o.CorrelationID, now) || o.SubmitInFlight(now, r.client.conf.SubmitLease) {
				continue
			}
			if err := r.recoverOrder(ctx, o); err != nil {
				return err
			}
			continue
		}
		if !r.shouldPoll(o.CorrelationID, o.LastUpdateAt, pushed, now) {
			continue
		}
		due = append(due, o)
	}

	for _, batch := range chunk(due, r.conf.BatchSize) {
		if err := r.pollOrders(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// recoverOrder 处理尚未确认受理的订单：发送过的先轮询，合作方没有记录时才重发
func (r *StatusReconciler) recoverOrder(ctx context.Context, o *OrderRecord) error {
	if o.SubmitAttempts > 0 {
		progress, err := r.client.PollOrderProgress(ctx, []string{o.CorrelationID})
		if err != nil {
			if caseErrors.IsAuthenticationFailed(err) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.orderPollFailed(ctx, o, err)
			return nil
		}
		if pr, ok := progress[o.CorrelationID]; ok {
			r.applyOrderPoll(ctx, o, pr)
			return nil
		}
		if o.SubmitRejected {
			r.orderPollFailed(ctx, o, fmt.Errorf("partner rejected a resend of %s and returns no status for it", o.CorrelationID))
			return nil
		}
	}
	return r.resubmitOrder(ctx, o)
}

func (r *StatusReconciler) resubmitOrder(ctx context.Context, o *OrderRecord) error {
	updated, err := r.client.ResubmitOrder(ctx, o)
	switch {
	case err == nil:
		r.resetBackoff(o.CorrelationID)
	case caseErrors.IsAuthenticationFailed(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case caseErrors.IsPartnerRejected(err) && (updated == nil || !updated.Tracking):
		// 首次发送即被拒绝，已在 sendOrder 中标记 Failed
		r.forget(o.CorrelationID)
	default:
		r.orderPollFailed(ctx, o, err)
	}
	return nil
}

func (r *StatusReconciler) pollOrders(ctx context.Context, batch []*OrderRecord) error {
	ids := make([]string, len(batch))
	for i, o := range batch {
		ids[i] = o.CorrelationID
	}
	progress, err := r.client.PollOrderProgress(ctx, ids)
	if err == nil {
		for _, o := range batch {
			pr, ok := progress[o.CorrelationID]
			if !ok {
				r.orderPollFailed(ctx, o, fmt.Errorf("partner returned no status for %s", o.CorrelationID))
				continue
			}
			r.applyOrderPoll(ctx, o, pr)
		}
		return nil
	}
	if caseErrors.IsAuthenticationFailed(err) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(batch) == 1 {
		r.orderPollFailed(ctx, batch[0], err)
		return nil
	}

	r.log.WithContext(ctx).Warnf("batched order poll failed, falling back to single polls: ids=%d, error=%v", len(ids), err)
	for _, o := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		single, err := r.client.PollOrderProgress(ctx, []string{o.CorrelationID})
		if err != nil {
			if caseErrors.IsAuthenticationFailed(err) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.orderPollFailed(ctx, o, err)
			continue
		}
		pr, ok := single[o.CorrelationID]
		if !ok {
			r.orderPollFailed(ctx, o, fmt.Errorf("partner returned no status for %s", o.CorrelationID))
			continue
		}
		r.applyOrderPoll(ctx, o, pr)
	}
	return nil
}

func (r *StatusReconciler) applyOrderPoll(ctx context.Context, o *OrderRecord, pr *OrderProgress) {
	r.resetBackoff(o.CorrelationID)
	if _, _, err := r.client.ApplyOrderStatus(ctx, o.CorrelationID, pr, constants.StatusSourcePoll); err != nil {
		r.log.WithContext(ctx).Errorf("apply polled order status failed: correlation_id=%s, error=%v", o.CorrelationID, err)
	}
}

func (r *StatusReconciler) orderPollFailed(ctx context.Context, o *OrderRecord, cause error) {
	r.metrics.PollFailureTotal.WithLabelValues(constants.RecordKindOrder).Inc()
	failures, wait, exhausted := r.recordFailure(o.CorrelationID)
	if !exhausted {
		r.log.WithContext(ctx).Warnf("order reconciliation failed (%d/%d), next attempt in %s: correlation_id=%s, error=%v",
			failures, r.conf.MaxPollFailures, wait, o.CorrelationID, cause)
		return
	}

	diagnostic := fmt.Sprintf("status unknown after %d failed attempts: %s", failures, caseErrors.Diagnostic(cause))
	var from OrderStatus
	stalled, err := r.repo.UpdateOrder(ctx, o.CorrelationID, func(o *OrderRecord) error {
		if !o.Active() {
			return ErrSkipSave
		}
		from = o.Status
		o.MarkStalled(diagnostic, r.now())
		o.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		r.log.WithContext(ctx).Errorf("mark order stalled failed: correlation_id=%s, error=%v", o.CorrelationID, err)
		return
	}
	r.forget(o.CorrelationID)
	if !stalled.Stalled {
		return
	}
	r.metrics.StalledRecordTotal.WithLabelValues(constants.RecordKindOrder).Inc()
	r.log.WithContext(ctx).Errorf("order needs operator attention: correlation_id=%s, last_known=%s, %s",
		stalled.CorrelationID, stalled.LastKnownStatus, diagnostic)
	r.trail.OrderChanged(ctx, stalled, from, constants.StatusSourceStall)
}

// ========== 调度状态 ==========

// shouldPoll 本轮未收到推送、超过静默窗口且退避已到期
func (r *StatusReconciler) shouldPoll(id string, lastUpdate time.Time, pushed map[string]struct{}, now time.Time) bool {
	if _, ok := pushed[id]; ok {
		return false
	}
	if now.Sub(lastUpdate) < r.conf.StalenessWindow {
		return false
	}
	return r.isDue(id, now)
}

func (r *StatusReconciler) isDue(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backoffs[id]
	return !ok || !now.Before(b.next)
}

// recordFailure 累计失败次数并计算下次轮询时间，达到上限时 exhausted=true
func (r *StatusReconciler) recordFailure(id string) (int, time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backoffs[id]
	if !ok {
		b = &pollBackoff{}
		r.backoffs[id] = b
	}
	b.failures++
	if b.failures >= r.conf.MaxPollFailures {
		return b.failures, 0, true
	}
	wait := backoff{base: r.conf.BackoffBase, max: r.conf.BackoffMax}.delay(b.failures)
	b.next = r.now().Add(wait)
	return b.failures, wait, false
}

func (r *StatusReconciler) resetBackoff(id string) {
	r.mu.Lock()
	delete(r.backoffs, id)
	r.mu.Unlock()
}

func (r *StatusReconciler) forget(id string) {
	r.mu.Lock()
	delete(r.backoffs, id)
	delete(r.pushed, id)
	r.mu.Unlock()
}

func (r *StatusReconciler) markPushed(ids []string) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.pushed[id] = struct{}{}
		// 推送说明合作方记录正常，清除失败计数
		delete(r.backoffs, id)
	}
}

func (r *StatusReconciler) drainPushed() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	pushed := r.pushed
	r.pushed = make(map[string]struct{})
	return pushed
}

// Failures 当前连续失败次数（诊断用）
func (r *StatusReconciler) Failures(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backoffs[id]; ok {
		return b.failures
	}
	return 0
}

func chunk[T any](list []T, size int) [][]T {
	if size <= 0 {
		size = len(list)
	}
	var out [][]T
	for len(list) > 0 {
		n := min(size, len(list))
		out = append(out, list[:n])
		list = list[n:]
	}
	return out
}
