package biz

import (
	"context"
	"time"

	"caseprint-service/internal/constants"
	"caseprint-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// StatusTrail 记录状态历史、发布状态事件、归档不再跟踪的记录
// 均为尽力而为：失败只记录日志，不影响主流程
type StatusTrail struct {
	archive   ArchiveRepo
	publisher StatusEventPublisher
	log       *log.Helper
	metrics   *metrics.PartnerMetrics
}

// NewStatusTrail 创建 StatusTrail
func NewStatusTrail(archive ArchiveRepo, publisher StatusEventPublisher, logger log.Logger) *StatusTrail {
	return &StatusTrail{
		archive:   archive,
		publisher: publisher,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// Observe 统计一次状态判定
func (t *StatusTrail) Observe(kind, source string, tr Transition) {
	t.metrics.StatusTransitionTotal.WithLabelValues(kind, source, tr.String()).Inc()
}

// PaymentChanged 支付状态已变更
func (t *StatusTrail) PaymentChanged(ctx context.Context, p *PaymentIntent, from PaymentStatus, source string) {
	t.record(ctx, &StatusTransition{
		CorrelationID: p.CorrelationID,
		Kind:          constants.RecordKindPayment,
		From:          int32(from),
		To:            int32(p.Status),
		Source:        source,
		Diagnostic:    p.Diagnostic,
		At:            p.LastUpdateAt,
	})
	t.publish(ctx, &StatusEvent{
		CorrelationID: p.CorrelationID,
		LocalOrderID:  p.LocalOrderID,
		Kind:          constants.RecordKindPayment,
		Status:        int32(p.Status),
		StatusName:    p.Status.String(),
		Source:        source,
		Stalled:       p.Stalled,
		Diagnostic:    p.Diagnostic,
		At:            p.LastUpdateAt,
	})
	if !p.Active() {
		t.ArchivePayment(ctx, p)
	}
}

// OrderChanged 订单状态已变更
func (t *StatusTrail) OrderChanged(ctx context.Context, o *OrderRecord, from OrderStatus, source string) {
	t.record(ctx, &StatusTransition{
		CorrelationID: o.CorrelationID,
		Kind:          constants.RecordKindOrder,
		From:          int32(from),
		To:            int32(o.Status),
		Source:        source,
		Diagnostic:    o.Diagnostic,
		At:            o.LastUpdateAt,
	})
	t.publish(ctx, &StatusEvent{
		CorrelationID: o.CorrelationID,
		LocalOrderID:  o.LocalOrderID,
		Kind:          constants.RecordKindOrder,
		Status:        int32(o.Status),
		StatusName:    o.Status.String(),
		Source:        source,
		Stalled:       o.Stalled,
		Diagnostic:    o.Diagnostic,
		At:            o.LastUpdateAt,
	})
	if !o.Active() {
		t.ArchiveOrder(ctx, o)
	}
}

// ArchivePayment 归档支付意向
func (t *StatusTrail) ArchivePayment(ctx context.Context, p *PaymentIntent) {
	if t.archive == nil {
		return
	}
	if err := t.archive.ArchivePayment(ctx, p); err != nil {
		t.log.WithContext(ctx).Warnf("archive payment failed: correlation_id=%s, error=%v", p.CorrelationID, err)
	}
}

// ArchiveOrder 归档订单
func (t *StatusTrail) ArchiveOrder(ctx context.Context, o *OrderRecord) {
	if t.archive == nil {
		return
	}
	if err := t.archive.ArchiveOrder(ctx, o); err != nil {
		t.log.WithContext(ctx).Warnf("archive order failed: correlation_id=%s, error=%v", o.CorrelationID, err)
	}
}

func (t *StatusTrail) record(ctx context.Context, tr *StatusTransition) {
	if t.archive == nil {
		return
	}
	if tr.At.IsZero() {
		tr.At = time.Now()
	}
	if err := t.archive.RecordTransition(ctx, tr); err != nil {
		t.log.WithContext(ctx).Warnf("record transition failed: correlation_id=%s, error=%v", tr.CorrelationID, err)
	}
}

func (t *StatusTrail) publish(ctx context.Context, ev *StatusEvent) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, ev); err != nil {
		t.log.WithContext(ctx).Warnf("publish status event failed: correlation_id=%s, error=%v", ev.CorrelationID, err)
	}
}
