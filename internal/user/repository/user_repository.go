package repository

import (
	"errors"
	"time"

	userdomain "replypilot-backend/internal/user/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user storage operations
type UserRepository interface {
	Create(user *userdomain.User) error
	FindByID(id string) (*userdomain.User, error)
	FindByEmail(email string) (*userdomain.User, error)
	Update(user *userdomain.User) error
	// FindAutomationEnabled returns users with automation enabled AND a
	// non-empty refresh token. Users without a refresh token are never
	// eligible for the pipeline.
	FindAutomationEnabled() ([]*userdomain.User, error)
	UpdateTokens(userID, accessToken, refreshToken string, expiry *time.Time) error
	SetAutomationEnabled(userID string, enabled bool) error
	SetSpreadsheetID(userID, spreadsheetID string) error
	// RecordRefreshFailure increments the consecutive-failure counter and
	// returns the new count.
	RecordRefreshFailure(userID string) (int, error)
	ClearRefreshFailures(userID string) error
}

// userRepository implements UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new instance of userRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{
		db: db,
	}
}

func (r *userRepository) Create(user *userdomain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.TenantID == "" {
		user.TenantID = uuid.New().String()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	return r.db.Create(user).Error
}

func (r *userRepository) FindByID(id string) (*userdomain.User, error) {
	var user userdomain.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(email string) (*userdomain.User, error) {
	var user userdomain.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Update(user *userdomain.User) error {
	user.UpdatedAt = time.Now()
	return r.db.Save(user).Error
}

func (r *userRepository) FindAutomationEnabled() ([]*userdomain.User, error) {
	var users []*userdomain.User
	err := r.db.
		Where("is_automation_enabled = ? AND google_refresh_token <> ''", true).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) UpdateTokens(userID, accessToken, refreshToken string, expiry *time.Time) error {
	updates := map[string]interface{}{
		"google_access_token": accessToken,
		"google_token_expiry": expiry,
		"updated_at":          time.Now(),
	}
	// A new refresh token is only issued occasionally; keep the old one
	// unless the provider rotated it.
	if refreshToken != "" {
		updates["google_refresh_token"] = refreshToken
	}
	return r.db.Model(&userdomain.User{}).Where("id = ?", userID).Updates(updates).Error
}

func (r *userRepository) SetAutomationEnabled(userID string, enabled bool) error {
	return r.db.Model(&userdomain.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_automation_enabled": enabled,
		"updated_at":            time.Now(),
	}).Error
}

func (r *userRepository) SetSpreadsheetID(userID, spreadsheetID string) error {
	return r.db.Model(&userdomain.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"spreadsheet_id": spreadsheetID,
		"updated_at":     time.Now(),
	}).Error
}

func (r *userRepository) RecordRefreshFailure(userID string) (int, error) {
	err := r.db.Model(&userdomain.User{}).Where("id = ?", userID).
		UpdateColumn("refresh_failures", gorm.Expr("refresh_failures + 1")).Error
	if err != nil {
		return 0, err
	}
	user, err := r.FindByID(userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, gorm.ErrRecordNotFound
	}
	return user.RefreshFailures, nil
}

func (r *userRepository) ClearRefreshFailures(userID string) error {
	return r.db.Model(&userdomain.User{}).Where("id = ?", userID).
		UpdateColumn("refresh_failures", 0).Error
}
