package model

import "time"

// StatusTransition 状态变更历史
type StatusTransition struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	CorrelationID string    `gorm:"type:varchar(32);not null;index"`
	// payment / order
	Kind          string    `gorm:"type:varchar(16);not null"`
	FromStatus    int32     `gorm:"not null"`
	ToStatus      int32     `gorm:"not null"`
	// submit / push / poll / stall / cancel
	Source        string    `gorm:"type:varchar(16);not null"`
	Diagnostic    string    `gorm:"type:varchar(512)"`
	At            time.Time `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (StatusTransition) TableName() string {
	return "status_transition"
}
