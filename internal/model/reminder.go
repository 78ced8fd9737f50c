package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReminderStatus is the delivery state of a Reminder
type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderSent    ReminderStatus = "sent"
	ReminderFailed  ReminderStatus = "failed"
)

// Reminder is a push notification scheduled at a fixed offset before an event.
// (EventID, NotifyAt) is unique.
type Reminder struct {
	ID            string         `json:"id" gorm:"type:char(36);primaryKey"`
	EventID       string         `json:"event_id" gorm:"type:char(36);not null;uniqueIndex:idx_reminders_event_notify,priority:1"`
	OwnerID       string         `json:"owner_id" gorm:"type:char(36);not null;index"`
	NotifyAt      time.Time      `json:"notify_at" gorm:"not null;uniqueIndex:idx_reminders_event_notify,priority:2;index"`
	Message       string         `json:"message" gorm:"type:text;not null"`
	DeliveryToken string         `json:"-" gorm:"type:varchar(255)"`
	SentAt        *time.Time     `json:"sent_at"`
	Status        ReminderStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	RetryCount    int            `json:"retry_count" gorm:"not null;default:0"`
	ErrorMessage  string         `json:"error_message,omitempty" gorm:"type:text"`
	LeaseOwner    string         `json:"-" gorm:"type:varchar(64)"`
	LeaseUntil    *time.Time     `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	Event *Event `json:"event,omitempty" gorm:"foreignKey:EventID"`
}

// TableName specifies the table name for Reminder
func (Reminder) TableName() string {
	return "reminders"
}

// BeforeCreate assigns a UUID when the caller did not
func (r *Reminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
