package model

import "time"

// Calendar providers an account can delegate to
const (
	CalendarGoogle = "google"
	CalendarCalDAV = "caldav"
)

// Account holds an owner's delegated calendar credentials and push token.
type Account struct {
	ID                 string    `json:"id" gorm:"type:char(36);primaryKey"`
	Email              string    `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	CalendarProvider   string    `json:"calendar_provider" gorm:"type:varchar(20);not null;default:'google'"`
	GoogleRefreshToken string    `json:"-" gorm:"type:text"`
	CalDAVURL          string    `json:"caldav_url" gorm:"column:caldav_url;type:varchar(1024)"`
	CalDAVUsername     string    `json:"caldav_username" gorm:"column:caldav_username;type:varchar(255)"`
	CalDAVPassword     string    `json:"-" gorm:"column:caldav_password;type:text"`
	PushToken          string    `json:"push_token" gorm:"type:varchar(255)"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}
