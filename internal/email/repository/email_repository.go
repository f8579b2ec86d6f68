package repository

import (
	"errors"
	"time"

	emaildomain "replypilot-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDuplicateEmail is returned by Create when a row for the same
// (userID, messageID) pair already exists. Callers treat it as "already
// seen, skip", not as a failure: two concurrent inbox scans for the same
// user are expected to race here.
var ErrDuplicateEmail = errors.New("email already exists for this user and message")

// AutomationStats aggregates per-user pipeline outcomes for the analytics
// endpoint.
type AutomationStats struct {
	TotalEmails     int64   `json:"total_emails"`
	ProcessedEmails int64   `json:"processed_emails"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// EmailRepository defines the interface for email storage operations
type EmailRepository interface {
	Create(email *emaildomain.Email) error
	FindByID(id string) (*emaildomain.Email, error)
	ExistsByUserAndMessageID(userID, messageID string) (bool, error)
	ListByUser(userID string) ([]*emaildomain.Email, error)
	SetReplyAttempted(id string, at time.Time) error
	ClearReplyAttempted(id string) error
	MarkProcessed(id string, processedAt time.Time, responseTime float64) error
	Stats(userID string) (*AutomationStats, error)
}

// emailRepository implements EmailRepository interface
type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new instance of emailRepository
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{
		db: db,
	}
}

func (r *emailRepository) Create(email *emaildomain.Email) error {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	email.CreatedAt = time.Now()
	email.UpdatedAt = time.Now()
	err := r.db.Create(email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (r *emailRepository) FindByID(id string) (*emaildomain.Email, error) {
	var email emaildomain.Email
	err := r.db.Where("id = ?", id).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) ExistsByUserAndMessageID(userID, messageID string) (bool, error) {
	var count int64
	err := r.db.Model(&emaildomain.Email{}).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *emailRepository) ListByUser(userID string) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	err := r.db.Where("user_id = ?", userID).
		Order("received_at DESC").
		Find(&emails).Error
	if err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *emailRepository) SetReplyAttempted(id string, at time.Time) error {
	return r.db.Model(&emaildomain.Email{}).Where("id = ?", id).Updates(map[string]interface{}{
		"reply_attempted_at": at,
		"updated_at":         time.Now(),
	}).Error
}

func (r *emailRepository) ClearReplyAttempted(id string) error {
	return r.db.Model(&emaildomain.Email{}).Where("id = ?", id).Updates(map[string]interface{}{
		"reply_attempted_at": nil,
		"updated_at":         time.Now(),
	}).Error
}

func (r *emailRepository) MarkProcessed(id string, processedAt time.Time, responseTime float64) error {
	return r.db.Model(&emaildomain.Email{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":  processedAt,
		"response_time": responseTime,
		"updated_at":    time.Now(),
	}).Error
}

func (r *emailRepository) Stats(userID string) (*AutomationStats, error) {
	stats := &AutomationStats{}

	if err := r.db.Model(&emaildomain.Email{}).
		Where("user_id = ?", userID).
		Count(&stats.TotalEmails).Error; err != nil {
		return nil, err
	}

	if err := r.db.Model(&emaildomain.Email{}).
		Where("user_id = ? AND processed_at IS NOT NULL", userID).
		Count(&stats.ProcessedEmails).Error; err != nil {
		return nil, err
	}

	if stats.ProcessedEmails > 0 {
		var avg *float64
		if err := r.db.Model(&emaildomain.Email{}).
			Where("user_id = ? AND processed_at IS NOT NULL", userID).
			Select("AVG(response_time)").
			Scan(&avg).Error; err != nil {
			return nil, err
		}
		if avg != nil {
			stats.AvgResponseTime = *avg
		}
	}

	return stats, nil
}
