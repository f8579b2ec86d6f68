package repository

import (
	"errors"
	"time"

	knowledgedomain "replypilot-backend/internal/knowledge/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KnowledgeRepository defines the interface for knowledge base storage
type KnowledgeRepository interface {
	Create(item *knowledgedomain.KnowledgeItem) error
	FindByID(id string) (*knowledgedomain.KnowledgeItem, error)
	// FindByIDs returns items for the given IDs in no particular order;
	// callers re-sort by retrieval rank.
	FindByIDs(ids []string) ([]*knowledgedomain.KnowledgeItem, error)
	ListByTenant(tenantID string) ([]*knowledgedomain.KnowledgeItem, error)
	Delete(id string) error
}

// knowledgeRepository implements KnowledgeRepository interface
type knowledgeRepository struct {
	db *gorm.DB
}

// NewKnowledgeRepository creates a new instance of knowledgeRepository
func NewKnowledgeRepository(db *gorm.DB) KnowledgeRepository {
	return &knowledgeRepository{
		db: db,
	}
}

func (r *knowledgeRepository) Create(item *knowledgedomain.KnowledgeItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.CreatedAt = time.Now()
	item.UpdatedAt = time.Now()
	return r.db.Create(item).Error
}

func (r *knowledgeRepository) FindByID(id string) (*knowledgedomain.KnowledgeItem, error) {
	var item knowledgedomain.KnowledgeItem
	err := r.db.Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *knowledgeRepository) FindByIDs(ids []string) ([]*knowledgedomain.KnowledgeItem, error) {
	if len(ids) == 0 {
		return []*knowledgedomain.KnowledgeItem{}, nil
	}
	var items []*knowledgedomain.KnowledgeItem
	err := r.db.Where("id IN ?", ids).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *knowledgeRepository) ListByTenant(tenantID string) ([]*knowledgedomain.KnowledgeItem, error) {
	var items []*knowledgedomain.KnowledgeItem
	err := r.db.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *knowledgeRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&knowledgedomain.KnowledgeItem{}).Error
}
