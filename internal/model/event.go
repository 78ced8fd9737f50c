package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventStatus is the lifecycle state of an Event
type EventStatus string

const (
	// EventPending is ready for calendar sync
	EventPending EventStatus = "pending"
	// EventUpcoming is selected by the sync worker exactly like EventPending
	EventUpcoming EventStatus = "upcoming"
	// EventNeedsReview could not be parsed confidently and waits for an operator
	EventNeedsReview EventStatus = "needs_review"
	// EventSynced has a calendar entry and its reminders
	EventSynced EventStatus = "synced"
	// EventFailed exhausted its sync attempts or hit a permanent error
	EventFailed EventStatus = "failed"
)

// SyncableStatuses are the statuses the calendar sync worker picks up
var SyncableStatuses = []EventStatus{EventPending, EventUpcoming}

// Provenance records which parsing path produced an event
type Provenance string

const (
	// ProvenancePattern came from the rule-based extractor
	ProvenancePattern Provenance = "pattern"
	// ProvenanceInference came from the inference fallback
	ProvenanceInference Provenance = "inference"
	// ProvenanceNone marks an empty review shell
	ProvenanceNone Provenance = ""
)

// Column limits enforced before an Event is written
const (
	MaxTitleLen        = 512
	MaxLocationLen     = 512
	MaxPrepItemLen     = 255
	MaxPrepItems       = 50
	MaxErrorMessageLen = 4096
)

// Event is a structured calendar event derived from exactly one RawMessage.
// (OwnerID, SourceMessageID) is the idempotency key.
type Event struct {
	ID                 string                      `json:"id" gorm:"type:char(36);primaryKey"`
	OwnerID            string                      `json:"owner_id" gorm:"type:char(36);not null;uniqueIndex:idx_events_owner_source,priority:1"`
	ChildID            *string                     `json:"child_id" gorm:"type:char(36);index"`
	Title              string                      `json:"title" gorm:"type:varchar(512);not null"`
	StartAt            time.Time                   `json:"start_at" gorm:"not null"`
	EndAt              time.Time                   `json:"end_at" gorm:"not null"`
	Location           string                      `json:"location,omitempty" gorm:"type:varchar(512)"`
	PrepItems          datatypes.JSONSlice[string] `json:"prep_items"`
	SourceMessageID    string                      `json:"source_message_id" gorm:"type:char(36);not null;uniqueIndex:idx_events_owner_source,priority:2"`
	Provenance         Provenance                  `json:"provenance" gorm:"type:varchar(20)"`
	Confidence         float64                     `json:"confidence"`
	Status             EventStatus                 `json:"status" gorm:"type:varchar(20);not null;index"`
	ExternalCalendarID string                      `json:"external_calendar_id,omitempty" gorm:"type:varchar(1024)"`
	ErrorMessage       string                      `json:"error_message,omitempty" gorm:"type:text"`
	SyncAttempts       int                         `json:"sync_attempts" gorm:"not null;default:0"`
	LeaseOwner         string                      `json:"-" gorm:"type:varchar(64)"`
	LeaseUntil         *time.Time                  `json:"-" gorm:"index"`
	CreatedAt          time.Time                   `json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
}

// TableName specifies the table name for Event
func (Event) TableName() string {
	return "events"
}

// BeforeCreate assigns a UUID when the caller did not and fits text to its columns
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.FitColumns()
	return nil
}

// FitColumns cuts free text taken from messages or inference output down to
// the column sizes, so an oversized value cannot fail the insert.
func (e *Event) FitColumns() {
	e.Title = clip(e.Title, MaxTitleLen)
	e.Location = clip(e.Location, MaxLocationLen)
	e.ErrorMessage = clip(e.ErrorMessage, MaxErrorMessageLen)

	if len(e.PrepItems) > MaxPrepItems {
		e.PrepItems = e.PrepItems[:MaxPrepItems]
	}
	for i, item := range e.PrepItems {
		e.PrepItems[i] = clip(item, MaxPrepItemLen)
	}
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
