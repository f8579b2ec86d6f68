package domain

import (
	"time"

	"gorm.io/datatypes"
)

// KnowledgeItem is one snippet of a user's personal knowledge base.
// The embedding is computed once at write time and never mutated; the
// pipeline only reads items through tenant-scoped similarity search.
type KnowledgeItem struct {
	ID       string `json:"id" gorm:"primaryKey"`
	UserID   string `json:"user_id" gorm:"index;not null"`
	TenantID string `json:"tenant_id" gorm:"index;not null"`

	Topic   string `json:"topic" gorm:"not null"`
	Content string `json:"content" gorm:"type:text;not null"`

	// Embedding is the fixed-dimension vector for Content, stored as JSON.
	// The vector index itself lives in the external search store.
	Embedding datatypes.JSON `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (KnowledgeItem) TableName() string {
	return "knowledge_items"
}
