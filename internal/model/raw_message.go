package model

import (
	"time"
)

// RawMessage is an inbound message stored by the external ingestion step.
// The pipeline only ever flips Processed.
type RawMessage struct {
	ID          string     `json:"id" gorm:"type:char(36);primaryKey"`
	OwnerID     string     `json:"owner_id" gorm:"type:char(36);not null;index"`
	Subject     string     `json:"subject" gorm:"type:varchar(998)"`
	Body        string     `json:"body" gorm:"type:longtext"`
	ReceivedAt  time.Time  `json:"received_at" gorm:"not null;index"`
	Processed   bool       `json:"processed" gorm:"not null;default:false;index"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// TableName specifies the table name for RawMessage
func (RawMessage) TableName() string {
	return "inbound_messages"
}
