package data

import (
	"context"
	"errors"
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// archiveRepo 终态记录归档与状态历史（MySQL）
type archiveRepo struct {
	data *Data
	log  *log.Helper
}

// NewArchiveRepo 创建归档 repo（返回 biz.ArchiveRepo 接口）
func NewArchiveRepo(data *Data, logger log.Logger) biz.ArchiveRepo {
	return &archiveRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ArchivePayment 归档支付意向，重复归档覆盖旧值
func (r *archiveRepo) ArchivePayment(ctx context.Context, p *biz.PaymentIntent) error {
	m := toPaymentModel(p)
	m.ArchivedAt = time.Now()
	return r.data.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

// ArchiveOrder 归档订单，重复归档覆盖旧值
func (r *archiveRepo) ArchiveOrder(ctx context.Context, o *biz.OrderRecord) error {
	m := toOrderModel(o)
	m.ArchivedAt = time.Now()
	return r.data.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

// RecordTransition 写入状态变更历史
func (r *archiveRepo) RecordTransition(ctx context.Context, t *biz.StatusTransition) error {
	m := model.StatusTransition{
		CorrelationID: t.CorrelationID,
		Kind:          t.Kind,
		FromStatus:    t.From,
		ToStatus:      t.To,
		Source:        t.Source,
		Diagnostic:    t.Diagnostic,
		At:            t.At,
	}
	return r.data.db.WithContext(ctx).Create(&m).Error
}

// ListTransitions 按发生顺序返回状态变更历史
func (r *archiveRepo) ListTransitions(ctx context.Context, correlationID string) ([]*biz.StatusTransition, error) {
	var rows []model.StatusTransition
	if err := r.data.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	list := make([]*biz.StatusTransition, 0, len(rows))
	for _, m := range rows {
		list = append(list, &biz.StatusTransition{
			CorrelationID: m.CorrelationID,
			Kind:          m.Kind,
			From:          m.FromStatus,
			To:            m.ToStatus,
			Source:        m.Source,
			Diagnostic:    m.Diagnostic,
			At:            m.At,
		})
	}
	return list, nil
}

// FindPayment 查询已归档的支付意向，不存在时返回 nil, nil
func (r *archiveRepo) FindPayment(ctx context.Context, correlationID string) (*biz.PaymentIntent, error) {
	var m model.PaymentIntent
	if err := r.data.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toPaymentIntent(&m), nil
}

// FindOrder 查询已归档的订单，不存在时返回 nil, nil
func (r *archiveRepo) FindOrder(ctx context.Context, correlationID string) (*biz.OrderRecord, error) {
	var m model.OrderRecord
	if err := r.data.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toOrderRecord(&m), nil
}
