package data

import (
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/data/model"
)

func toPaymentModel(p *biz.PaymentIntent) *model.PaymentIntent {
	return &model.PaymentIntent{
		CorrelationID:      p.CorrelationID,
		LocalOrderID:       p.LocalOrderID,
		PartnerPayID:       p.PartnerPayID,
		Amount:             p.Amount,
		PayType:            int32(p.PayType),
		ModelID:            p.ModelID,
		DeviceID:           p.DeviceID,
		ImageURL:           p.ImageURL,
		Status:             int32(p.Status),
		LastKnownStatus:    int32(p.LastKnownStatus),
		Diagnostic:         p.Diagnostic,
		Stalled:            p.Stalled,
		OrderSubmitted:     p.OrderSubmitted,
		OrderCorrelationID: p.OrderCorrelationID,
		OrderCreated:       p.OrderCreated,
		Tracking:           p.Tracking,
		LastUpdateAt:       p.LastUpdateAt,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func toPaymentIntent(m *model.PaymentIntent) *biz.PaymentIntent {
	return &biz.PaymentIntent{
		LocalOrderID:       m.LocalOrderID,
		CorrelationID:      m.CorrelationID,
		PartnerPayID:       m.PartnerPayID,
		Amount:             m.Amount,
		PayType:            biz.PayType(m.PayType),
		ModelID:            m.ModelID,
		DeviceID:           m.DeviceID,
		ImageURL:           m.ImageURL,
		Status:             biz.PaymentStatus(m.Status),
		LastKnownStatus:    biz.PaymentStatus(m.LastKnownStatus),
		Diagnostic:         m.Diagnostic,
		Stalled:            m.Stalled,
		OrderSubmitted:     m.OrderSubmitted,
		OrderCorrelationID: m.OrderCorrelationID,
		OrderCreated:       m.OrderCreated,
		Tracking:           m.Tracking,
		LastUpdateAt:       m.LastUpdateAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toOrderModel(o *biz.OrderRecord) *model.OrderRecord {
	return &model.OrderRecord{
		CorrelationID:        o.CorrelationID,
		LocalOrderID:         o.LocalOrderID,
		PartnerOrderID:       o.PartnerOrderID,
		PaymentCorrelationID: o.PaymentCorrelationID,
		PartnerPayID:         o.PartnerPayID,
		ImageURL:             o.ImageURL,
		DeviceID:             o.DeviceID,
		ModelID:              o.ModelID,
		Status:               int32(o.Status),
		LastKnownStatus:      int32(o.LastKnownStatus),
		QueueNumber:          o.QueueNumber,
		Diagnostic:           o.Diagnostic,
		Stalled:              o.Stalled,
		Submitted:            o.Submitted,
		SubmittingAt:         timePtr(o.SubmittingAt),
		SubmitAttempts:       o.SubmitAttempts,
		SubmitRejected:       o.SubmitRejected,
		Tracking:             o.Tracking,
		LastUpdateAt:         o.LastUpdateAt,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func toOrderRecord(m *model.OrderRecord) *biz.OrderRecord {
	return &biz.OrderRecord{
		LocalOrderID:         m.LocalOrderID,
		CorrelationID:        m.CorrelationID,
		PartnerOrderID:       m.PartnerOrderID,
		PaymentCorrelationID: m.PaymentCorrelationID,
		PartnerPayID:         m.PartnerPayID,
		ImageURL:             m.ImageURL,
		DeviceID:             m.DeviceID,
		ModelID:              m.ModelID,
		Status:               biz.OrderStatus(m.Status),
		LastKnownStatus:      biz.OrderStatus(m.LastKnownStatus),
		QueueNumber:          m.QueueNumber,
		Diagnostic:           m.Diagnostic,
		Stalled:              m.Stalled,
		Submitted:            m.Submitted,
		SubmittingAt:         timeValue(m.SubmittingAt),
		SubmitAttempts:       m.SubmitAttempts,
		SubmitRejected:       m.SubmitRejected,
		Tracking:             m.Tracking,
		LastUpdateAt:         m.LastUpdateAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
