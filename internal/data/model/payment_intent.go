package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentIntent 支付意向（Redis 中为 JSON，终态后归档到 payment_intent_archive）
type PaymentIntent struct {
	CorrelationID      string          `gorm:"primaryKey;type:varchar(32)" json:"correlation_id"`
	LocalOrderID       string          `gorm:"type:varchar(36);not null;index" json:"local_order_id"`
	PartnerPayID       string          `gorm:"type:varchar(64);index" json:"partner_pay_id,omitempty"`
	Amount             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	PayType            int32           `gorm:"not null" json:"pay_type"`
	ModelID            string          `gorm:"type:varchar(64)" json:"model_id"`
	DeviceID           string          `gorm:"type:varchar(64)" json:"device_id"`
	ImageURL           string          `gorm:"type:varchar(1024)" json:"image_url,omitempty"`
	Status             int32           `gorm:"not null;index" json:"status"` // 0:Unknown 1:待支付 2:支付中 3:已支付 4:失败 5:异常
	LastKnownStatus    int32           `gorm:"not null" json:"last_known_status"`
	Diagnostic         string          `gorm:"type:varchar(512)" json:"diagnostic,omitempty"`
	Stalled            bool            `gorm:"not null;default:false" json:"stalled"`
	OrderSubmitted     bool            `gorm:"not null;default:false" json:"order_submitted"`
	OrderCorrelationID string          `gorm:"type:varchar(32)" json:"order_correlation_id,omitempty"`
	OrderCreated       bool            `gorm:"not null;default:false" json:"order_created"`
	Tracking           bool            `gorm:"not null" json:"tracking"`
	LastUpdateAt       time.Time       `json:"last_update_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	ArchivedAt         time.Time       `gorm:"index" json:"-"`
}

// TableName 指定表名
func (PaymentIntent) TableName() string {
	return "payment_intent_archive"
}
