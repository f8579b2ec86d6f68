package domain

import "time"

type User struct {
	ID       string `json:"id" gorm:"primaryKey"`
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	Name     string `json:"name"`
	TenantID string `json:"tenant_id" gorm:"index;not null"`

	// Google OAuth credentials. The refresh token is long-lived and rotates
	// rarely; the access token is replaced on every refresh.
	GoogleAccessToken  string     `json:"-"`
	GoogleRefreshToken string     `json:"-"`
	GoogleTokenExpiry  *time.Time `json:"-"`

	IsAutomationEnabled bool `json:"is_automation_enabled"`

	// Spreadsheet used as the audit log destination, created lazily on the
	// first successful automated reply.
	SpreadsheetID string `json:"spreadsheet_id,omitempty"`

	// Consecutive credential refresh failures. Automation is disabled once
	// this crosses the configured bound; any successful refresh resets it.
	RefreshFailures int `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
