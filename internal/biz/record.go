package biz

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PayType 支付方式（合作方定义）
type PayType int32

const (
	PayTypeWeChat  PayType = 1
	PayTypeAlipay  PayType = 2
	PayTypeCard    PayType = 3
	PayTypeVending PayType = 4 // 售货机现金
)

// Valid 是否为合作方定义的支付方式
func (t PayType) Valid() bool {
	return t >= PayTypeWeChat && t <= PayTypeVending
}

var (
	// ErrCorrelationIDTaken 关联ID已被占用，调用方需重新生成
	ErrCorrelationIDTaken = errors.New("correlation id already taken")
	// ErrSkipSave 在 Update 回调中返回，表示无需写回
	ErrSkipSave = errors.New("skip save")
)

// PaymentIntent 支付意向
type PaymentIntent struct {
	LocalOrderID  string
	CorrelationID string // PYEN + yyMMdd + 6 位，终身不变
	PartnerPayID  string // 合作方确认后写入，只写一次
	Amount        decimal.Decimal
	PayType       PayType
	ModelID       string
	DeviceID      string
	ImageURL      string

	Status          PaymentStatus
	LastKnownStatus PaymentStatus // 标记 Unknown 前的最后已知状态
	Diagnostic      string        // 合作方原始 code/msg 或本地失败原因
	Stalled         bool

	OrderSubmitted     bool   // 已登记订单关联ID，之后不再生成新订单
	OrderCorrelationID string // 登记的 OREN 关联ID，订单记录按此ID创建
	OrderCreated       bool   // 订单记录已按登记的关联ID创建
	Tracking           bool   // false 表示对账已停止跟踪（用户取消）

	LastUpdateAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ApplyStatus 在记录锁内按单调性规则应用状态
func (p *PaymentIntent) ApplyStatus(next PaymentStatus, at time.Time) Transition {
	base := p.Status
	if base == PaymentStatusUnknown {
		base = p.LastKnownStatus
	}
	t := NextPaymentStatus(base, next)
	switch t {
	case TransitionApplied:
	case TransitionNoop:
		if p.Status != PaymentStatusUnknown {
			p.LastUpdateAt = at
			return t
		}
		// 已知状态推送恢复了 Unknown 记录
	default:
		return t
	}
	p.Status = next
	p.LastKnownStatus = next
	p.Stalled = false
	p.LastUpdateAt = at
	return TransitionApplied
}

// MarkStalled 重试耗尽，标记为 Unknown 交由人工处理
func (p *PaymentIntent) MarkStalled(diagnostic string, at time.Time) {
	if p.Status != PaymentStatusUnknown {
		p.LastKnownStatus = p.Status
	}
	p.Status = PaymentStatusUnknown
	p.Stalled = true
	p.Diagnostic = diagnostic
	p.LastUpdateAt = at
}

// NeedsOrder 已收款但订单记录尚未创建（包括已登记未创建）
func (p *PaymentIntent) NeedsOrder() bool {
	return p.Status.IsPaid() && !p.OrderCreated && p.Tracking
}

// Active 是否仍需对账（轮询或自动提交订单）
func (p *PaymentIntent) Active() bool {
	if !p.Tracking || p.Stalled {
		return false
	}
	return !p.Status.IsTerminal() || p.NeedsOrder()
}

// OrderRecord 合作方订单
type OrderRecord struct {
	LocalOrderID         string
	CorrelationID        string // OREN + yyMMdd + 6 位，终身不变
	PartnerOrderID       string
	PaymentCorrelationID string
	PartnerPayID         string
	ImageURL             string
	DeviceID             string
	ModelID              string

	Status          OrderStatus
	LastKnownStatus OrderStatus
	QueueNumber     *int
	Diagnostic      string
	Stalled         bool

	Submitted      bool      // 合作方已受理下单请求
	SubmittingAt   time.Time // 提交租约起始时间，零值表示无进行中的发送
	SubmitAttempts int       // 已发起的下单请求次数
	SubmitRejected bool      // 重发被拒绝，之前的发送结果未知，只能轮询确认
	Tracking       bool

	LastUpdateAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ApplyStatus 在记录锁内按单调性规则应用状态
func (o *OrderRecord) ApplyStatus(next OrderStatus, at time.Time) Transition {
	base := o.Status
	if base == OrderStatusUnknown {
		base = o.LastKnownStatus
	}
	t := NextOrderStatus(base, next)
	switch t {
	case TransitionApplied:
	case TransitionNoop:
		if o.Status != OrderStatusUnknown {
			o.LastUpdateAt = at
			return t
		}
	default:
		return t
	}
	o.Status = next
	o.LastKnownStatus = next
	o.Stalled = false
	o.LastUpdateAt = at
	return TransitionApplied
}

// MarkStalled 重试耗尽，标记为 Unknown 交由人工处理
func (o *OrderRecord) MarkStalled(diagnostic string, at time.Time) {
	if o.Status != OrderStatusUnknown {
		o.LastKnownStatus = o.Status
	}
	o.Status = OrderStatusUnknown
	o.Stalled = true
	o.Diagnostic = diagnostic
	o.LastUpdateAt = at
}

// SubmitInFlight 租约未过期时视为仍有发送在进行中
func (o *OrderRecord) SubmitInFlight(now time.Time, lease time.Duration) bool {
	return !o.SubmittingAt.IsZero() && now.Sub(o.SubmittingAt) < lease
}

// releaseLease 仅释放本次发送持有的租约
func (o *OrderRecord) releaseLease(lease time.Time) {
	if o.SubmittingAt.Equal(lease) {
		o.SubmittingAt = time.Time{}
	}
}

// Active 是否仍需对账
func (o *OrderRecord) Active() bool {
	return o.Tracking && !o.Stalled && !o.Status.IsTerminal()
}

// StatusTransition 状态变更历史
type StatusTransition struct {
	CorrelationID string
	Kind          string // payment / order
	From          int32
	To            int32
	Source        string // submit / push / poll / stall / cancel
	Diagnostic    string
	At            time.Time
}

// StatusEvent 状态事件（UI 侧订阅）
type StatusEvent struct {
	CorrelationID string    `json:"correlation_id"`
	LocalOrderID  string    `json:"local_order_id"`
	Kind          string    `json:"kind"`
	Status        int32     `json:"status"`
	StatusName    string    `json:"status_name"`
	Source        string    `json:"source"`
	Stalled       bool      `json:"stalled"`
	Diagnostic    string    `json:"diagnostic,omitempty"`
	At            time.Time `json:"at"`
}

// RecordRepo 关联记录存储（按关联ID加锁）
type RecordRepo interface {
	// CreatePayment 新建支付意向，关联ID已存在时返回 ErrCorrelationIDTaken
	CreatePayment(ctx context.Context, p *PaymentIntent) error
	// GetPayment 不存在时返回 nil, nil
	GetPayment(ctx context.Context, correlationID string) (*PaymentIntent, error)
	// UpdatePayment 在记录锁内读取、修改并写回
	UpdatePayment(ctx context.Context, correlationID string, fn func(p *PaymentIntent) error) (*PaymentIntent, error)
	ListActivePayments(ctx context.Context) ([]*PaymentIntent, error)

	CreateOrder(ctx context.Context, o *OrderRecord) error
	GetOrder(ctx context.Context, correlationID string) (*OrderRecord, error)
	UpdateOrder(ctx context.Context, correlationID string, fn func(o *OrderRecord) error) (*OrderRecord, error)
	ListActiveOrders(ctx context.Context) ([]*OrderRecord, error)
}

// ArchiveRepo 终态记录归档与状态历史
type ArchiveRepo interface {
	ArchivePayment(ctx context.Context, p *PaymentIntent) error
	ArchiveOrder(ctx context.Context, o *OrderRecord) error
	RecordTransition(ctx context.Context, t *StatusTransition) error
	ListTransitions(ctx context.Context, correlationID string) ([]*StatusTransition, error)
	// FindPayment / FindOrder 查询归档记录，不存在时返回 nil, nil
	FindPayment(ctx context.Context, correlationID string) (*PaymentIntent, error)
	FindOrder(ctx context.Context, correlationID string) (*OrderRecord, error)
}

// StatusEventPublisher 状态事件发布
type StatusEventPublisher interface {
	Publish(ctx context.Context, event *StatusEvent) error
}
