package model

import "time"

// Child is owner-managed reference data used to link events to a child by name.
type Child struct {
	ID          string    `json:"id" gorm:"type:char(36);primaryKey"`
	OwnerID     string    `json:"owner_id" gorm:"type:char(36);not null;index"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for Child
func (Child) TableName() string {
	return "children"
}
