package biz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseprint-service/internal/constants"
	caseErrors "caseprint-service/internal/errors"
	"caseprint-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 关联ID冲突时重新生成的次数
const correlationDrawAttempts = 3

// SubmitPaymentRequest 提交支付请求（由定制流程交付）
type SubmitPaymentRequest struct {
	ModelID  string
	DeviceID string // 为空时使用配置的设备号
	ImageURL string // 渲染后的图片地址，收款后下单使用
	Amount   decimal.Decimal
	PayType  PayType
}

// FlexAmount 兼容数字或字符串形式的金额
type FlexAmount string

func (a *FlexAmount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "null" {
		s = ""
	}
	*a = FlexAmount(s)
	return nil
}

// Decimal 解析金额，空值或格式错误时 ok=false
func (a FlexAmount) Decimal() (decimal.Decimal, bool) {
	if a == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// PaymentNotification 合作方支付结果推送
type PaymentNotification struct {
	ThirdID   string     `json:"third_id"`
	PayType   int        `json:"pay_type"`
	PayAmount FlexAmount `json:"pay_amount"`
	PayDate   string     `json:"pay_date"`
	Status    int        `json:"status"`
}

// OrderNotification 合作方订单状态推送
type OrderNotification struct {
	ThirdID  string `json:"third_id"`
	Status   int    `json:"status"`
	QueueNum *int   `json:"queue_num,omitempty"`
}

// NotifyResult 推送处理结果
type NotifyResult struct {
	Ack     string   // success / fail，原样回给合作方
	Applied []string // 状态已前进的关联ID
}

// OrderProgress 订单轮询结果
type OrderProgress struct {
	Status      OrderStatus
	QueueNumber *int
}

type statusRow struct {
	ThirdID  string `json:"third_id"`
	Status   int    `json:"status"`
	QueueNum *int   `json:"queue_num"`
}

// OrderPaymentClient 合作方支付/订单协议编排
type OrderPaymentClient struct {
	transport PartnerTransport
	session   *SessionManager
	signer    *Signer
	ids       *CorrelationIDGenerator
	repo      RecordRepo
	trail     *StatusTrail
	conf      *PartnerConfig
	log       *log.Helper
	metrics   *metrics.PartnerMetrics

	now   func() time.Time
	sleep sleepFunc
}

// NewOrderPaymentClient 创建 OrderPaymentClient
func NewOrderPaymentClient(
	transport PartnerTransport,
	session *SessionManager,
	signer *Signer,
	ids *CorrelationIDGenerator,
	repo RecordRepo,
	trail *StatusTrail,
	conf *PartnerConfig,
	logger log.Logger,
) *OrderPaymentClient {
	return &OrderPaymentClient{
		transport: transport,
		session:   session,
		signer:    signer,
		ids:       ids,
		repo:      repo,
		trail:     trail,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// ========== 合作方调用 ==========

// call 签名调用合作方接口，传输错误和瞬时业务码按退避重试，错误携带关联ID
func (c *OrderPaymentClient) call(ctx context.Context, path, correlationID string, body map[string]any, out any) error {
	start := time.Now()
	err := retry(ctx, c.conf.RetryAttempts, backoff{base: c.conf.RetryBaseDelay, max: c.conf.RetryMaxDelay}, c.sleep,
		func(err error) bool { return caseErrors.IsRetryable(err, c.conf.TransientCodes) },
		func(n int, err error) {
			c.metrics.PartnerRetryTotal.WithLabelValues(path).Inc()
			c.log.WithContext(ctx).Warnf("partner call %s attempt %d failed, retrying: correlation_id=%s, error=%v", path, n, correlationID, err)
		},
		func() error { return c.callOnce(ctx, path, correlationID, body, out) })
	c.metrics.PartnerCallDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.PartnerCallTotal.WithLabelValues(path, constants.ResultFailed).Inc()
		return caseErrors.WithCorrelation(err, correlationID)
	}
	c.metrics.PartnerCallTotal.WithLabelValues(path, constants.ResultSuccess).Inc()
	return nil
}

// callOnce 401 时重新登录并只重试一次
func (c *OrderPaymentClient) callOnce(ctx context.Context, path, correlationID string, body map[string]any, out any) error {
	token, err := c.session.EnsureToken(ctx)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, path, token, body)
	if err != nil {
		return err
	}
	if resp.Code == constants.PartnerCodeUnauthorized {
		c.metrics.ReloginTotal.Inc()
		c.session.Invalidate(token)
		if token, err = c.session.EnsureToken(ctx); err != nil {
			return err
		}
		if resp, err = c.post(ctx, path, token, body); err != nil {
			return err
		}
		if resp.Code == constants.PartnerCodeUnauthorized {
			c.session.Invalidate(token)
			return caseErrors.TokenExpired(correlationID)
		}
	}
	if resp.Code != constants.PartnerCodeSuccess {
		return caseErrors.PartnerRejected(correlationID, resp.Code, resp.Msg)
	}
	if out == nil || len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return caseErrors.Transport(correlationID, fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

func (c *OrderPaymentClient) post(ctx context.Context, path, token string, body map[string]any) (*PartnerResponse, error) {
	return c.transport.Post(ctx, &PartnerRequest{
		Path:  path,
		Token: token,
		Sign:  c.signer.Sign(body),
		Body:  body,
	})
}

// ========== 支付 ==========

// SubmitPayment 生成 PYEN 关联ID，先落库再提交合作方
// 合作方拒绝时返回已标记 Failed 的意向及错误；传输失败时意向保持 AwaitingPayment 交给对账轮询
func (c *OrderPaymentClient) SubmitPayment(ctx context.Context, req *SubmitPaymentRequest) (*PaymentIntent, error) {
	if req == nil {
		return nil, caseErrors.PreconditionViolation("", "submit payment request is required")
	}
	if !req.Amount.IsPositive() {
		return nil, caseErrors.PreconditionViolation("", "amount must be positive, got %s", req.Amount.String())
	}
	if !req.PayType.Valid() {
		return nil, caseErrors.PreconditionViolation("", "unsupported pay type %d", req.PayType)
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = c.conf.DeviceID
	}

	now := c.now()
	intent := &PaymentIntent{
		LocalOrderID:    uuid.New().String(),
		Amount:          req.Amount,
		PayType:         req.PayType,
		ModelID:         req.ModelID,
		DeviceID:        deviceID,
		ImageURL:        req.ImageURL,
		Status:          PaymentStatusAwaitingPayment,
		LastKnownStatus: PaymentStatusAwaitingPayment,
		Tracking:        true,
		LastUpdateAt:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.createPayment(ctx, intent); err != nil {
		return nil, err
	}
	id := intent.CorrelationID
	c.trail.PaymentChanged(ctx, intent, PaymentStatusUnknown, constants.StatusSourceSubmit)

	body := map[string]any{
		"third_id":   id,
		"model_id":   intent.ModelID,
		"device_id":  intent.DeviceID,
		"pay_type":   int(intent.PayType),
		"pay_amount": intent.Amount.StringFixed(2),
	}
	var data struct {
		ID      string `json:"id"`
		ThirdID string `json:"third_id"`
	}
	callErr := c.call(ctx, c.conf.Paths.SubmitPayment, id, body, &data)
	if callErr == nil {
		if data.ThirdID != "" && data.ThirdID != id {
			c.log.WithContext(ctx).Warnf("partner echoed a different third_id: correlation_id=%s, third_id=%s", id, data.ThirdID)
		}
		updated, err := c.repo.UpdatePayment(ctx, id, func(p *PaymentIntent) error {
			if p.PartnerPayID == "" {
				p.PartnerPayID = data.ID
			}
			p.Diagnostic = ""
			p.UpdatedAt = c.now()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("save partner pay id for %s: %w", id, err)
		}
		c.log.WithContext(ctx).Infof("payment submitted: correlation_id=%s, partner_pay_id=%s, amount=%s", id, updated.PartnerPayID, updated.Amount.StringFixed(2))
		return updated, nil
	}

	diagnostic := caseErrors.Diagnostic(callErr)
	if !caseErrors.IsPartnerRejected(callErr) {
		// 合作方可能已受理，保持待支付由对账轮询确认
		c.log.WithContext(ctx).Errorf("submit payment failed, left for reconciliation: correlation_id=%s, error=%v", id, callErr)
		if _, err := c.repo.UpdatePayment(ctx, id, func(p *PaymentIntent) error {
			p.Diagnostic = diagnostic
			p.UpdatedAt = c.now()
			return nil
		}); err != nil {
			c.log.WithContext(ctx).Errorf("save payment diagnostic failed: correlation_id=%s, error=%v", id, err)
		}
		return intent, callErr
	}

	c.log.WithContext(ctx).Errorf("partner rejected payment: correlation_id=%s, diagnostic=%s", id, diagnostic)
	var from PaymentStatus
	failed, err := c.repo.UpdatePayment(ctx, id, func(p *PaymentIntent) error {
		from = p.Status
		p.ApplyStatus(PaymentStatusFailed, c.now())
		p.Diagnostic = diagnostic
		p.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		c.log.WithContext(ctx).Errorf("mark payment failed: correlation_id=%s, error=%v", id, err)
		return intent, callErr
	}
	c.trail.PaymentChanged(ctx, failed, from, constants.StatusSourceSubmit)
	return failed, callErr
}

func (c *OrderPaymentClient) createPayment(ctx context.Context, p *PaymentIntent) error {
	for i := 0; i < correlationDrawAttempts; i++ {
		id, err := c.ids.Next(constants.CorrelationPrefixPayment)
		if err != nil {
			return err
		}
		p.CorrelationID = id
		err = c.repo.CreatePayment(ctx, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCorrelationIDTaken) {
			return fmt.Errorf("create payment %s: %w", id, err)
		}
		c.log.WithContext(ctx).Warnf("correlation id %s already taken, drawing a new one", id)
	}
	return fmt.Errorf("no free payment correlation id after %d attempts", correlationDrawAttempts)
}

// NotifyPaymentResult 处理合作方支付推送；重复或过期的推送不产生变化
// 未知关联ID记录后仍应答 success，存储失败应答 fail 让合作方重推
func (c *OrderPaymentClient) NotifyPaymentResult(ctx context.Context, notes []*PaymentNotification) *NotifyResult {
	res := &NotifyResult{Ack: constants.NotifyAckSuccess}
	for _, n := range notes {
		if n == nil {
			continue
		}
		next := ParsePaymentStatus(n.Status)
		if next == PaymentStatusUnknown {
			c.log.WithContext(ctx).Warnf("unrecognized payment status in notification: correlation_id=%s, status=%d", n.ThirdID, n.Status)
		}
		p, tr, err := c.ApplyPaymentStatus(ctx, n.ThirdID, next, constants.StatusSourcePush, func(p *PaymentIntent) {
			amount, ok := n.PayAmount.Decimal()
			if ok && !amount.Equal(p.Amount) {
				p.Diagnostic = fmt.Sprintf("notified amount %s differs from submitted %s", amount.StringFixed(2), p.Amount.StringFixed(2))
				c.log.WithContext(ctx).Errorf("payment amount mismatch: correlation_id=%s, %s", p.CorrelationID, p.Diagnostic)
			}
		})
		switch {
		case caseErrors.IsUnknownCorrelationID(err):
			c.metrics.NotificationTotal.WithLabelValues(constants.RecordKindPayment, constants.ResultUnknown).Inc()
			c.log.WithContext(ctx).Warnf("payment notification for unknown correlation id %q acknowledged", n.ThirdID)
		case err != nil:
			c.metrics.NotificationTotal.WithLabelValues(constants.RecordKindPayment, constants.ResultFailed).Inc()
			c.log.WithContext(ctx).Errorf("apply payment notification failed: correlation_id=%s, error=%v", n.ThirdID, err)
			res.Ack = constants.NotifyAckFail
		default:
			c.metrics.NotificationTotal.WithLabelValues(constants.RecordKindPayment, tr.String()).Inc()
			if tr == TransitionApplied {
				res.Applied = append(res.Applied, p.CorrelationID)
			}
		}
	}
	return res
}

// ApplyPaymentStatus 在记录锁内按单调性规则应用支付状态
func (c *OrderPaymentClient) ApplyPaymentStatus(ctx context.Context, correlationID string, next PaymentStatus, source string, inspect func(p *PaymentIntent)) (*PaymentIntent, Transition, error) {
	if !strings.HasPrefix(correlationID, constants.CorrelationPrefixPayment) {
		return nil, 0, caseErrors.UnknownCorrelationID(correlationID)
	}
	var (
		from PaymentStatus
		tr   Transition
	)
	p, err := c.repo.UpdatePayment(ctx, correlationID, func(p *PaymentIntent) error {
		now := c.now()
		from = p.Status
		tr = p.ApplyStatus(next, now)
		if inspect != nil {
			inspect(p)
		}
		switch tr {
		case TransitionRejected:
			return ErrSkipSave
		case TransitionIgnored:
			p.Diagnostic = "unrecognized partner payment status"
		}
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		if caseErrors.IsRecordNotFound(err) {
			return nil, 0, caseErrors.UnknownCorrelationID(correlationID)
		}
		return nil, 0, err
	}
	c.trail.Observe(constants.RecordKindPayment, source, tr)
	if tr == TransitionRejected {
		c.log.WithContext(ctx).Infof("stale payment status dropped: correlation_id=%s, current=%s, incoming=%s", correlationID, p.Status, next)
	}
	if tr == TransitionApplied {
		c.log.WithContext(ctx).Infof("payment status %s -> %s: correlation_id=%s, source=%s", from, p.Status, correlationID, source)
		c.trail.PaymentChanged(ctx, p, from, source)
	}
	return p, tr, nil
}

// PollPaymentStatus 批量查询支付状态，未返回的关联ID不在结果中
func (c *OrderPaymentClient) PollPaymentStatus(ctx context.Context, correlationIDs []string) (map[string]PaymentStatus, error) {
	rows, err := c.query(ctx, c.conf.Paths.QueryPayment, correlationIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]PaymentStatus, len(rows))
	for _, row := range rows {
		out[row.ThirdID] = ParsePaymentStatus(row.Status)
	}
	return out, nil
}

// GetPayment 查询支付意向
func (c *OrderPaymentClient) GetPayment(ctx context.Context, correlationID string) (*PaymentIntent, error) {
	p, err := c.repo.GetPayment(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, caseErrors.RecordNotFound(correlationID)
	}
	return p, nil
}

// ========== 订单 ==========

// SubmitOrder 为已收款的支付意向下单，每个意向只生成一个订单
// 意向未收款时返回 PreconditionViolation；重复调用返回已创建的订单
func (c *OrderPaymentClient) SubmitOrder(ctx context.Context, intent *PaymentIntent, imageURL string) (*OrderRecord, error) {
	if intent == nil {
		return nil, caseErrors.PreconditionViolation("", "payment intent is required")
	}
	payID := intent.CorrelationID
	if imageURL == "" {
		imageURL = intent.ImageURL
	}
	if imageURL == "" {
		return nil, caseErrors.PreconditionViolation(payID, "image url is required")
	}

	for i := 0; i < correlationDrawAttempts; i++ {
		order, created, err := c.claimOrder(ctx, payID, imageURL)
		if errors.Is(err, ErrCorrelationIDTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !created {
			// 订单已存在，未送达的由订单对账确认后重发
			return order, nil
		}
		return c.sendOrder(ctx, order)
	}
	return nil, fmt.Errorf("no free order correlation id for %s after %d attempts", payID, correlationDrawAttempts)
}

// claimOrder 先在支付意向上登记订单关联ID，再按登记的ID创建订单记录
// 登记写入后不会再生成新ID；订单记录缺失时后续调用按同一ID补建
// created=true 时调用方持有首次发送的租约
func (c *OrderPaymentClient) claimOrder(ctx context.Context, payID, imageURL string) (*OrderRecord, bool, error) {
	p, err := c.repo.UpdatePayment(ctx, payID, func(p *PaymentIntent) error {
		if p.OrderSubmitted {
			return ErrSkipSave
		}
		if !p.Status.IsPaid() {
			return caseErrors.PreconditionViolation(payID, "payment is %s, order requires Paid", p.Status)
		}
		if !p.Tracking {
			return caseErrors.PreconditionViolation(payID, "payment was cancelled")
		}
		orderID, err := c.ids.Next(constants.CorrelationPrefixOrder)
		if err != nil {
			return err
		}
		p.OrderSubmitted = true
		p.OrderCorrelationID = orderID
		p.ImageURL = imageURL
		p.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if p.OrderCreated {
		o, err := c.GetOrder(ctx, p.OrderCorrelationID)
		return o, false, err
	}
	if !p.Tracking {
		return nil, false, caseErrors.PreconditionViolation(payID, "payment was cancelled")
	}

	now := c.now()
	order := &OrderRecord{
		LocalOrderID:         p.LocalOrderID,
		CorrelationID:        p.OrderCorrelationID,
		PaymentCorrelationID: payID,
		PartnerPayID:         p.PartnerPayID,
		ImageURL:             p.ImageURL,
		DeviceID:             p.DeviceID,
		ModelID:              p.ModelID,
		Status:               OrderStatusAwaitingPayment,
		LastKnownStatus:      OrderStatusAwaitingPayment,
		SubmittingAt:         now,
		SubmitAttempts:       1,
		Tracking:             true,
		LastUpdateAt:         now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	err = c.repo.CreateOrder(ctx, order)
	if errors.Is(err, ErrCorrelationIDTaken) {
		existing, gerr := c.repo.GetOrder(ctx, order.CorrelationID)
		if gerr != nil {
			return nil, false, gerr
		}
		if existing != nil && existing.PaymentCorrelationID == payID {
			// 之前的调用已建好订单，只补写意向标记
			c.markOrderCreated(ctx, payID, order.CorrelationID)
			return existing, false, nil
		}
		c.log.WithContext(ctx).Warnf("order correlation id %s already taken, drawing a new one", order.CorrelationID)
		c.releaseOrderClaim(ctx, payID, order.CorrelationID)
		return nil, false, ErrCorrelationIDTaken
	}
	if err != nil {
		return nil, false, fmt.Errorf("create order %s: %w", order.CorrelationID, err)
	}
	c.log.WithContext(ctx).Infof("order claimed: payment=%s, order=%s", payID, order.CorrelationID)
	c.markOrderCreated(ctx, payID, order.CorrelationID)
	c.trail.OrderChanged(ctx, order, OrderStatusUnknown, constants.StatusSourceSubmit)
	return order, true, nil
}

// markOrderCreated 置位 OrderCreated，意向随之停止跟踪并归档
// 写回失败时意向仍需下单，下一轮对账会找到已建的订单并重试置位
func (c *OrderPaymentClient) markOrderCreated(ctx context.Context, payID, orderID string) {
	p, err := c.repo.UpdatePayment(ctx, payID, func(p *PaymentIntent) error {
		if p.OrderCreated || p.OrderCorrelationID != orderID {
			return ErrSkipSave
		}
		p.OrderCreated = true
		p.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		c.log.WithContext(ctx).Errorf("mark order created failed: payment=%s, order=%s, error=%v", payID, orderID, err)
		return
	}
	if !p.Active() {
		c.trail.ArchivePayment(ctx, p)
	}
}

// releaseOrderClaim 关联ID被其他订单占用时撤销登记
func (c *OrderPaymentClient) releaseOrderClaim(ctx context.Context, payID, orderID string) {
	if _, err := c.repo.UpdatePayment(ctx, payID, func(p *PaymentIntent) error {
		if p.OrderCreated || p.OrderCorrelationID != orderID {
			return ErrSkipSave
		}
		p.OrderSubmitted = false
		p.OrderCorrelationID = ""
		p.UpdatedAt = c.now()
		return nil
	}); err != nil {
		c.log.WithContext(ctx).Errorf("release order claim failed: payment=%s, order=%s, error=%v", payID, orderID, err)
	}
}

// ResubmitOrder 重新提交未送达合作方的订单，沿用原 OREN 关联ID
// 其他调用方的发送租约未过期时不发送，直接返回当前记录
func (c *OrderPaymentClient) ResubmitOrder(ctx context.Context, order *OrderRecord) (*OrderRecord, error) {
	if order == nil {
		return nil, caseErrors.PreconditionViolation("", "order is required")
	}
	leased := false
	o, err := c.repo.UpdateOrder(ctx, order.CorrelationID, func(o *OrderRecord) error {
		now := c.now()
		if o.Submitted || !o.Active() || o.SubmitInFlight(now, c.conf.SubmitLease) {
			return ErrSkipSave
		}
		o.SubmittingAt = now
		o.SubmitAttempts++
		o.UpdatedAt = now
		leased = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !leased {
		return o, nil
	}
	return c.sendOrder(ctx, o)
}

// sendOrder 持有租约时发送下单请求，结束后释放本次租约
func (c *OrderPaymentClient) sendOrder(ctx context.Context, order *OrderRecord) (*OrderRecord, error) {
	id := order.CorrelationID
	lease := order.SubmittingAt
	body := map[string]any{
		"third_id":     id,
		"pay_third_id": order.PaymentCorrelationID,
		"pay_id":       order.PartnerPayID,
		"device_id":    order.DeviceID,
		"model_id":     order.ModelID,
		"image_url":    order.ImageURL,
	}
	var data struct {
		ID       string `json:"id"`
		ThirdID  string `json:"third_id"`
		Status   *int   `json:"status"`
		QueueNum *int   `json:"queue_num"`
	}
	callErr := c.call(ctx, c.conf.Paths.SubmitOrder, id, body, &data)

	var (
		from OrderStatus
		tr   Transition
	)
	if callErr == nil {
		c.metrics.OrderSubmitTotal.WithLabelValues(constants.ResultSuccess).Inc()
		updated, err := c.repo.UpdateOrder(ctx, id, func(o *OrderRecord) error {
			now := c.now()
			from = o.Status
			o.Submitted = true
			o.SubmitRejected = false
			o.releaseLease(lease)
			if o.PartnerOrderID == "" {
				o.PartnerOrderID = data.ID
			}
			if data.QueueNum != nil {
				o.QueueNumber = data.QueueNum
			}
			o.Diagnostic = ""
			if data.Status != nil {
				tr = o.ApplyStatus(ParseOrderStatus(*data.Status), now)
			} else {
				o.LastUpdateAt = now
			}
			o.UpdatedAt = now
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("save partner order id for %s: %w", id, err)
		}
		c.log.WithContext(ctx).Infof("order submitted: correlation_id=%s, partner_order_id=%s", id, updated.PartnerOrderID)
		if tr == TransitionApplied {
			c.trail.OrderChanged(ctx, updated, from, constants.StatusSourceSubmit)
		}
		return updated, nil
	}

	c.metrics.OrderSubmitTotal.WithLabelValues(constants.ResultFailed).Inc()
	diagnostic := caseErrors.Diagnostic(callErr)
	if !caseErrors.IsPartnerRejected(callErr) {
		c.log.WithContext(ctx).Errorf("submit order failed, will resubmit: correlation_id=%s, error=%v", id, callErr)
		updated, err := c.repo.UpdateOrder(ctx, id, func(o *OrderRecord) error {
			if o.Submitted {
				return ErrSkipSave
			}
			o.Diagnostic = diagnostic
			o.releaseLease(lease)
			o.UpdatedAt = c.now()
			return nil
		})
		if err != nil {
			return order, callErr
		}
		return updated, callErr
	}

	var changed, ambiguous bool
	updated, err := c.repo.UpdateOrder(ctx, id, func(o *OrderRecord) error {
		if o.Submitted {
			return ErrSkipSave
		}
		now := c.now()
		o.Diagnostic = diagnostic
		o.releaseLease(lease)
		o.UpdatedAt = now
		if o.SubmitAttempts > 1 {
			// 之前的发送结果未知，合作方可能已受理，不能据此判定失败
			o.SubmitRejected = true
			ambiguous = true
			return nil
		}
		from = o.Status
		o.ApplyStatus(OrderStatusFailed, now)
		o.Tracking = false
		changed = true
		return nil
	})
	if err != nil {
		c.log.WithContext(ctx).Errorf("record order rejection failed: correlation_id=%s, error=%v", id, err)
		return order, callErr
	}
	if ambiguous {
		c.log.WithContext(ctx).Warnf("partner rejected order resend, left for polling: correlation_id=%s, diagnostic=%s", id, diagnostic)
		return updated, callErr
	}
	c.log.WithContext(ctx).Errorf("partner rejected order: correlation_id=%s, diagnostic=%s", id, diagnostic)
	if changed {
		c.trail.OrderChanged(ctx, updated, from, constants.StatusSourceSubmit)
	}
	return updated, callErr
}

// NotifyOrderResult 处理合作方订单推送，规则同 NotifyPaymentResult
func (c *OrderPaymentClient) NotifyOrderResult(ctx context.Context, notes []*OrderNotification) *NotifyResult {
	res := &NotifyResult{Ack: constants.NotifyAckSuccess}
	for _, n := range notes {
		if n == nil {
			continue
		}
		next := ParseOrderStatus(n.Status)
		if next == OrderStatusUnknown {
			c.log.WithContext(ctx).Warnf("unrecognized order status in notification: correlation_id=%s, status=%d", n.ThirdID, n.Status)
		}
		o, tr, err := c.ApplyOrderStatus(ctx, n.ThirdID, &OrderProgress{Status: next, QueueNumber: n.QueueNum}, constants.StatusSourcePush)
		switch {
		case caseErrors.IsUnknownCorrelationID(err):
			c.metrics.NotificationTotal.WithLabelValues(constants.RecordKindOrder, constants.ResultUnknown).Inc()
			c.log.WithContext(ctx).Warnf("order notification for unknown correlation id %q acknowledged", n.ThirdID)
		case err != nil:
			c.metrics.NotificationTotal.WithLabelValues(constants.RecordKindOrder, constants.ResultFailed).Inc()
			c.log.WithContext(ctx).Errorf("apply order notification failed: correlation_id=%s, error=%v", n.ThirdID, err)
			res.Ack = constants.NotifyAckFail
		default:
			c.metrics.NotificationTotal.WithLabelValues(constants.RecordKindOrder, tr.String()).Inc()
			if tr == TransitionApplied {
				res.Applied = append(res.Applied, o.CorrelationID)
			}
		}
	}
	return res
}

// ApplyOrderStatus 在记录锁内按单调性规则应用订单状态，排队号随状态一并更新
func (c *OrderPaymentClient) ApplyOrderStatus(ctx context.Context, correlationID string, progress *OrderProgress, source string) (*OrderRecord, Transition, error) {
	if !strings.HasPrefix(correlationID, constants.CorrelationPrefixOrder) {
		return nil, 0, caseErrors.UnknownCorrelationID(correlationID)
	}
	var (
		from OrderStatus
		tr   Transition
	)
	o, err := c.repo.UpdateOrder(ctx, correlationID, func(o *OrderRecord) error {
		now := c.now()
		from = o.Status
		tr = o.ApplyStatus(progress.Status, now)
		switch tr {
		case TransitionRejected:
			return ErrSkipSave
		case TransitionIgnored:
			o.Diagnostic = "unrecognized partner order status"
		}
		if progress.QueueNumber != nil {
			o.QueueNumber = progress.QueueNumber
		}
		// 推送或轮询到状态说明合作方已受理
		o.Submitted = true
		o.SubmitRejected = false
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		if caseErrors.IsRecordNotFound(err) {
			return nil, 0, caseErrors.UnknownCorrelationID(correlationID)
		}
		return nil, 0, err
	}
	c.trail.Observe(constants.RecordKindOrder, source, tr)
	if tr == TransitionRejected {
		c.log.WithContext(ctx).Infof("stale order status dropped: correlation_id=%s, current=%s, incoming=%s", correlationID, o.Status, progress.Status)
	}
	if tr == TransitionApplied {
		c.log.WithContext(ctx).Infof("order status %s -> %s: correlation_id=%s, source=%s", from, o.Status, correlationID, source)
		c.trail.OrderChanged(ctx, o, from, source)
	}
	return o, tr, nil
}

// PollOrderStatus 批量查询订单状态
func (c *OrderPaymentClient) PollOrderStatus(ctx context.Context, correlationIDs []string) (map[string]OrderStatus, error) {
	progress, err := c.PollOrderProgress(ctx, correlationIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]OrderStatus, len(progress))
	for id, p := range progress {
		out[id] = p.Status
	}
	return out, nil
}

// PollOrderProgress 批量查询订单状态及排队号
func (c *OrderPaymentClient) PollOrderProgress(ctx context.Context, correlationIDs []string) (map[string]*OrderProgress, error) {
	rows, err := c.query(ctx, c.conf.Paths.QueryOrder, correlationIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*OrderProgress, len(rows))
	for _, row := range rows {
		out[row.ThirdID] = &OrderProgress{Status: ParseOrderStatus(row.Status), QueueNumber: row.QueueNum}
	}
	return out, nil
}

// GetOrder 查询订单
func (c *OrderPaymentClient) GetOrder(ctx context.Context, correlationID string) (*OrderRecord, error) {
	o, err := c.repo.GetOrder(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, caseErrors.RecordNotFound(correlationID)
	}
	return o, nil
}

// query 批量查询，third_ids 为数组不参与签名
func (c *OrderPaymentClient) query(ctx context.Context, path string, correlationIDs []string) ([]statusRow, error) {
	if len(correlationIDs) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"third_ids": correlationIDs,
		"device_id": c.conf.DeviceID,
	}
	var rows []statusRow
	if err := c.call(ctx, path, strings.Join(correlationIDs, ","), body, &rows); err != nil {
		return nil, err
	}
	requested := make(map[string]bool, len(correlationIDs))
	for _, id := range correlationIDs {
		requested[id] = true
	}
	kept := rows[:0]
	for _, row := range rows {
		if requested[row.ThirdID] {
			kept = append(kept, row)
		}
	}
	return kept, nil
}
