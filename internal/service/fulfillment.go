package service

import (
	"context"
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/conf"
	caseErrors "caseprint-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/shopspring/decimal"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewFulfillmentService)

const defaultUserTimeout = 15 * time.Second

// SubmitPaymentRequest 定制流程提交支付
type SubmitPaymentRequest struct {
	ModelID  string `json:"model_id"`
	DeviceID string `json:"device_id"`
	ImageURL string `json:"image_url"`
	Amount   string `json:"amount"`
	PayType  int32  `json:"pay_type"`
}

// SubmitOrderRequest 手动提交订单（自动下单失败后由 UI 触发）
type SubmitOrderRequest struct {
	ImageURL string `json:"image_url"`
}

// PaymentReply 支付意向视图
type PaymentReply struct {
	LocalOrderID       string    `json:"local_order_id"`
	CorrelationID      string    `json:"correlation_id"`
	PartnerPayID       string    `json:"partner_pay_id,omitempty"`
	Amount             string    `json:"amount"`
	PayType            int32     `json:"pay_type"`
	ModelID            string    `json:"model_id"`
	DeviceID           string    `json:"device_id"`
	Status             int32     `json:"status"`
	StatusName         string    `json:"status_name"`
	Stalled            bool      `json:"stalled"`
	Tracking           bool      `json:"tracking"`
	Diagnostic         string    `json:"diagnostic,omitempty"`
	OrderSubmitted     bool      `json:"order_submitted"`
	OrderCorrelationID string    `json:"order_correlation_id,omitempty"`
	OrderCreated       bool      `json:"order_created"`
	LastUpdateAt       time.Time `json:"last_update_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// OrderReply 订单视图
type OrderReply struct {
	LocalOrderID         string    `json:"local_order_id"`
	CorrelationID        string    `json:"correlation_id"`
	PartnerOrderID       string    `json:"partner_order_id,omitempty"`
	PaymentCorrelationID string    `json:"payment_correlation_id"`
	Status               int32     `json:"status"`
	StatusName           string    `json:"status_name"`
	QueueNumber          *int      `json:"queue_number,omitempty"`
	Stalled              bool      `json:"stalled"`
	Tracking             bool      `json:"tracking"`
	Submitted            bool      `json:"submitted"`
	Diagnostic           string    `json:"diagnostic,omitempty"`
	LastUpdateAt         time.Time `json:"last_update_at"`
	CreatedAt            time.Time `json:"created_at"`
}

// TransitionReply 状态变更历史
type TransitionReply struct {
	Kind       string    `json:"kind"`
	From       int32     `json:"from"`
	To         int32     `json:"to"`
	Source     string    `json:"source"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	At         time.Time `json:"at"`
}

// FulfillmentService 面向定制 UI 与合作方回调的服务
type FulfillmentService struct {
	client      *biz.OrderPaymentClient
	reconciler  *biz.StatusReconciler
	archive     biz.ArchiveRepo
	userTimeout time.Duration
	log         *log.Helper
}

// NewFulfillmentService 创建 FulfillmentService
func NewFulfillmentService(c *conf.Bootstrap, client *biz.OrderPaymentClient, reconciler *biz.StatusReconciler, archive biz.ArchiveRepo, logger log.Logger) *FulfillmentService {
	timeout := defaultUserTimeout
	if c.Server != nil {
		timeout = conf.Duration(c.Server.Http.UserTimeout, timeout)
	}
	return &FulfillmentService{
		client:      client,
		reconciler:  reconciler,
		archive:     archive,
		userTimeout: timeout,
		log:         log.NewHelper(logger),
	}
}

// SubmitPayment 提交支付；失败时错误携带关联ID，诊断信息可通过 GetPayment 查看
func (s *FulfillmentService) SubmitPayment(ctx context.Context, req *SubmitPaymentRequest) (*PaymentReply, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, caseErrors.PreconditionViolation("", "invalid amount %q", req.Amount)
	}
	ctx, cancel := context.WithTimeout(ctx, s.userTimeout)
	defer cancel()

	intent, err := s.client.SubmitPayment(ctx, &biz.SubmitPaymentRequest{
		ModelID:  req.ModelID,
		DeviceID: req.DeviceID,
		ImageURL: req.ImageURL,
		Amount:   amount,
		PayType:  biz.PayType(req.PayType),
	})
	if err != nil {
		s.log.Errorf("SubmitPayment failed: model_id=%s, error=%v", req.ModelID, err)
		return nil, err
	}
	return toPaymentReply(intent), nil
}

// SubmitOrder 为已收款的支付意向提交订单，重复调用返回同一订单
func (s *FulfillmentService) SubmitOrder(ctx context.Context, paymentID string, req *SubmitOrderRequest) (*OrderReply, error) {
	ctx, cancel := context.WithTimeout(ctx, s.userTimeout)
	defer cancel()

	intent, err := s.client.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	order, err := s.client.SubmitOrder(ctx, intent, req.ImageURL)
	if err != nil {
		s.log.Errorf("SubmitOrder failed: payment=%s, error=%v", paymentID, err)
		return nil, err
	}
	return toOrderReply(order), nil
}

// GetPayment 查询支付意向，Redis 中已过期的记录从归档读取
func (s *FulfillmentService) GetPayment(ctx context.Context, correlationID string) (*PaymentReply, error) {
	p, err := s.client.GetPayment(ctx, correlationID)
	if err == nil {
		return toPaymentReply(p), nil
	}
	if !caseErrors.IsRecordNotFound(err) {
		return nil, err
	}
	archived, aerr := s.archive.FindPayment(ctx, correlationID)
	if aerr != nil {
		return nil, aerr
	}
	if archived == nil {
		return nil, err
	}
	return toPaymentReply(archived), nil
}

// GetOrder 查询订单，Redis 中已过期的记录从归档读取
func (s *FulfillmentService) GetOrder(ctx context.Context, correlationID string) (*OrderReply, error) {
	o, err := s.client.GetOrder(ctx, correlationID)
	if err == nil {
		return toOrderReply(o), nil
	}
	if !caseErrors.IsRecordNotFound(err) {
		return nil, err
	}
	archived, aerr := s.archive.FindOrder(ctx, correlationID)
	if aerr != nil {
		return nil, aerr
	}
	if archived == nil {
		return nil, err
	}
	return toOrderReply(archived), nil
}

// ListTransitions 查询单条记录的状态变更历史
func (s *FulfillmentService) ListTransitions(ctx context.Context, correlationID string) ([]*TransitionReply, error) {
	list, err := s.archive.ListTransitions(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	reply := make([]*TransitionReply, 0, len(list))
	for _, t := range list {
		reply = append(reply, &TransitionReply{
			Kind:       t.Kind,
			From:       t.From,
			To:         t.To,
			Source:     t.Source,
			Diagnostic: t.Diagnostic,
			At:         t.At,
		})
	}
	return reply, nil
}

// Cancel 用户放弃，停止跟踪该记录
func (s *FulfillmentService) Cancel(ctx context.Context, correlationID string) error {
	return s.reconciler.Cancel(ctx, correlationID)
}

// NotifyPayment 合作方支付推送，返回原样回给合作方的应答
func (s *FulfillmentService) NotifyPayment(ctx context.Context, notes []*biz.PaymentNotification) string {
	return s.reconciler.AcceptPaymentNotifications(ctx, notes).Ack
}

// NotifyOrder 合作方订单推送
func (s *FulfillmentService) NotifyOrder(ctx context.Context, notes []*biz.OrderNotification) string {
	return s.reconciler.AcceptOrderNotifications(ctx, notes).Ack
}

func toPaymentReply(p *biz.PaymentIntent) *PaymentReply {
	return &PaymentReply{
		LocalOrderID:       p.LocalOrderID,
		CorrelationID:      p.CorrelationID,
		PartnerPayID:       p.PartnerPayID,
		Amount:             p.Amount.StringFixed(2),
		PayType:            int32(p.PayType),
		ModelID:            p.ModelID,
		DeviceID:           p.DeviceID,
		Status:             int32(p.Status),
		StatusName:         p.Status.String(),
		Stalled:            p.Stalled,
		Tracking:           p.Tracking,
		Diagnostic:         p.Diagnostic,
		OrderSubmitted:     p.OrderSubmitted,
		OrderCorrelationID: p.OrderCorrelationID,
		OrderCreated:       p.OrderCreated,
		LastUpdateAt:       p.LastUpdateAt,
		CreatedAt:          p.CreatedAt,
	}
}

func toOrderReply(o *biz.OrderRecord) *OrderReply {
	return &OrderReply{
		LocalOrderID:         o.LocalOrderID,
		CorrelationID:        o.CorrelationID,
		PartnerOrderID:       o.PartnerOrderID,
		PaymentCorrelationID: o.PaymentCorrelationID,
		Status:               int32(o.Status),
		StatusName:           o.Status.String(),
		QueueNumber:          o.QueueNumber,
		Stalled:              o.Stalled,
		Tracking:             o.Tracking,
		Submitted:            o.Submitted,
		Diagnostic:           o.Diagnostic,
		LastUpdateAt:         o.LastUpdateAt,
		CreatedAt:            o.CreatedAt,
	}
}
