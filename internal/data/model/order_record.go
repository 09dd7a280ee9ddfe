package model

import "time"

// OrderRecord 合作方订单（Redis 中为 JSON，终态后归档到 order_record_archive）
type OrderRecord struct {
	CorrelationID        string     `gorm:"primaryKey;type:varchar(32)" json:"correlation_id"`
	LocalOrderID         string     `gorm:"type:varchar(36);not null;index" json:"local_order_id"`
	PartnerOrderID       string     `gorm:"type:varchar(64);index" json:"partner_order_id,omitempty"`
	PaymentCorrelationID string     `gorm:"type:varchar(32);not null;index" json:"payment_correlation_id"`
	PartnerPayID         string     `gorm:"type:varchar(64)" json:"partner_pay_id,omitempty"`
	ImageURL             string     `gorm:"type:varchar(1024)" json:"image_url"`
	DeviceID             string     `gorm:"type:varchar(64)" json:"device_id"`
	ModelID              string     `gorm:"type:varchar(64)" json:"model_id"`
	Status               int32      `gorm:"not null;index" json:"status"`
	LastKnownStatus      int32      `gorm:"not null" json:"last_known_status"`
	QueueNumber          *int       `json:"queue_number,omitempty"`
	Diagnostic           string     `gorm:"type:varchar(512)" json:"diagnostic,omitempty"`
	Stalled              bool       `gorm:"not null;default:false" json:"stalled"`
	Submitted            bool       `gorm:"not null;default:false" json:"submitted"`
	SubmittingAt         *time.Time `json:"submitting_at,omitempty"` // 提交租约起始时间
	SubmitAttempts       int        `gorm:"not null;default:0" json:"submit_attempts"`
	SubmitRejected       bool       `gorm:"not null;default:false" json:"submit_rejected"`
	Tracking             bool       `gorm:"not null" json:"tracking"`
	LastUpdateAt         time.Time  `json:"last_update_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ArchivedAt           time.Time  `gorm:"index" json:"-"`
}

// TableName 指定表名
func (OrderRecord) TableName() string {
	return "order_record_archive"
}
