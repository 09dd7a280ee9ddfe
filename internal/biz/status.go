package biz

import "fmt"

// Transition 状态更新的判定结果
type Transition int

const (
	// TransitionApplied 状态已前进（或进入失败/取消终态）
	TransitionApplied Transition = iota + 1
	// TransitionNoop 与当前状态相同
	TransitionNoop
	// TransitionRejected 会导致状态回退，丢弃
	TransitionRejected
	// TransitionIgnored 未知的合作方状态码
	TransitionIgnored
)

func (t Transition) String() string {
	switch t {
	case TransitionApplied:
		return "applied"
	case TransitionNoop:
		return "noop"
	case TransitionRejected:
		return "rejected"
	case TransitionIgnored:
		return "ignored"
	}
	return "invalid"
}

// PaymentStatus 支付状态（合作方支付接口状态码）
type PaymentStatus int32

const (
	PaymentStatusUnknown         PaymentStatus = 0
	PaymentStatusAwaitingPayment PaymentStatus = 1
	PaymentStatusPaying          PaymentStatus = 2
	PaymentStatusPaid            PaymentStatus = 3
	PaymentStatusFailed          PaymentStatus = 4
	PaymentStatusAbnormal        PaymentStatus = 5
)

var paymentStatusNames = map[PaymentStatus]string{
	PaymentStatusUnknown:         "Unknown",
	PaymentStatusAwaitingPayment: "AwaitingPayment",
	PaymentStatusPaying:          "Paying",
	PaymentStatusPaid:            "Paid",
	PaymentStatusFailed:          "Failed",
	PaymentStatusAbnormal:        "Abnormal",
}

// 生命周期先后顺序，Abnormal 仍可能被确认为 Paid 或 Failed
var paymentStatusRank = map[PaymentStatus]int{
	PaymentStatusAwaitingPayment: 0,
	PaymentStatusPaying:          1,
	PaymentStatusAbnormal:        2,
	PaymentStatusPaid:            3,
	PaymentStatusFailed:          4,
}

// ParsePaymentStatus 将合作方状态码映射为 PaymentStatus，未定义的码为 Unknown
func ParsePaymentStatus(code int) PaymentStatus {
	s := PaymentStatus(code)
	if _, ok := paymentStatusRank[s]; ok {
		return s
	}
	return PaymentStatusUnknown
}

func (s PaymentStatus) String() string {
	if name, ok := paymentStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PaymentStatus(%d)", int32(s))
}

// Known 是否为合作方定义的状态
func (s PaymentStatus) Known() bool {
	_, ok := paymentStatusRank[s]
	return ok
}

// IsTerminal 终态：之后不会再有状态变化
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// IsPaid 是否已收款（订单提交的前置条件）
func (s PaymentStatus) IsPaid() bool {
	return s == PaymentStatusPaid
}

// NextPaymentStatus 按单调性规则判定 cur -> next
func NextPaymentStatus(cur, next PaymentStatus) Transition {
	if !next.Known() {
		return TransitionIgnored
	}
	if cur == next {
		return TransitionNoop
	}
	if !cur.Known() {
		return TransitionApplied
	}
	if cur.IsTerminal() {
		return TransitionRejected
	}
	if next == PaymentStatusFailed {
		return TransitionApplied
	}
	if paymentStatusRank[next] >= paymentStatusRank[cur] {
		return TransitionApplied
	}
	return TransitionRejected
}

// OrderStatus 订单状态（合作方订单接口状态码，与 PaymentStatus 编号重叠但含义不同）
type OrderStatus int32

const (
	OrderStatusUnknown         OrderStatus = 0
	OrderStatusAwaitingPayment OrderStatus = 1
	OrderStatusCancelled       OrderStatus = 2
	OrderStatusPaying          OrderStatus = 3
	OrderStatusPaid            OrderStatus = 4
	OrderStatusFailed          OrderStatus = 5
	OrderStatusRefunding       OrderStatus = 6
	OrderStatusRefunded        OrderStatus = 7
	OrderStatusQueuedForPrint  OrderStatus = 8
	OrderStatusCollecting      OrderStatus = 9
	OrderStatusCollected       OrderStatus = 10
	OrderStatusPrinting        OrderStatus = 11
	OrderStatusPrinted         OrderStatus = 12
	OrderStatusPrintFailed     OrderStatus = 13
	OrderStatusPrintCancelled  OrderStatus = 14
	OrderStatusShipping        OrderStatus = 15
	OrderStatusShipped         OrderStatus = 16
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusUnknown:         "Unknown",
	OrderStatusAwaitingPayment: "AwaitingPayment",
	OrderStatusCancelled:       "Cancelled",
	OrderStatusPaying:          "Paying",
	OrderStatusPaid:            "Paid",
	OrderStatusFailed:          "Failed",
	OrderStatusRefunding:       "Refunding",
	OrderStatusRefunded:        "Refunded",
	OrderStatusQueuedForPrint:  "QueuedForPrint",
	OrderStatusCollecting:      "Collecting",
	OrderStatusCollected:       "Collected",
	OrderStatusPrinting:        "Printing",
	OrderStatusPrinted:         "Printed",
	OrderStatusPrintFailed:     "PrintFailed",
	OrderStatusPrintCancelled:  "PrintCancelled",
	OrderStatusShipping:        "Shipping",
	OrderStatusShipped:         "Shipped",
}

// 主线按履约顺序排列；失败分支排在主线之后，退款在失败之后
var orderStatusRank = map[OrderStatus]int{
	OrderStatusAwaitingPayment: 0,
	OrderStatusPaying:          1,
	OrderStatusPaid:            2,
	OrderStatusQueuedForPrint:  3,
	OrderStatusCollecting:      4,
	OrderStatusCollected:       5,
	OrderStatusPrinting:        6,
	OrderStatusPrinted:         7,
	OrderStatusShipping:        8,
	OrderStatusShipped:         9,
	OrderStatusFailed:          11,
	OrderStatusPrintFailed:     11,
	OrderStatusRefunding:       12,
	OrderStatusRefunded:        13,
	OrderStatusCancelled:       13,
	OrderStatusPrintCancelled:  13,
}

// ParseOrderStatus 将合作方状态码映射为 OrderStatus，未定义的码为 Unknown
func ParseOrderStatus(code int) OrderStatus {
	s := OrderStatus(code)
	if _, ok := orderStatusRank[s]; ok {
		return s
	}
	return OrderStatusUnknown
}

func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", int32(s))
}

// Known 是否为合作方定义的状态
func (s OrderStatus) Known() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// IsTerminal 终态：已发货、已退款、已取消、打印取消
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusShipped, OrderStatusRefunded, OrderStatusCancelled, OrderStatusPrintCancelled:
		return true
	}
	return false
}

func (s OrderStatus) isCancellation() bool {
	switch s {
	case OrderStatusRefunded, OrderStatusCancelled, OrderStatusPrintCancelled:
		return true
	}
	return false
}

// NextOrderStatus 按单调性规则判定 cur -> next
func NextOrderStatus(cur, next OrderStatus) Transition {
	if !next.Known() {
		return TransitionIgnored
	}
	if cur == next {
		return TransitionNoop
	}
	if !cur.Known() {
		return TransitionApplied
	}
	if cur.IsTerminal() {
		return TransitionRejected
	}
	if next.isCancellation() {
		return TransitionApplied
	}
	if orderStatusRank[next] >= orderStatusRank[cur] {
		return TransitionApplied
	}
	return TransitionRejected
}
