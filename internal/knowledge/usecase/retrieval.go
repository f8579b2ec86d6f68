package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	knowledgedomain "replypilot-backend/internal/knowledge/domain"
	knowledgerepo "replypilot-backend/internal/knowledge/repository"
)

// VectorStore is the vector index the engine retrieves against. Matches
// come back as item IDs ordered by similarity; the rows themselves live in
// the relational store.
type VectorStore interface {
	UpsertKnowledge(ctx context.Context, itemID, tenantID, topic, content string, vector []float32) error
	QueryKnowledge(ctx context.Context, tenantID, query string, limit int) ([]string, []float64, error)
	DeleteKnowledge(ctx context.Context, itemID string) error
}

// AIService is the generative model surface the engine needs.
type AIService interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	SummarizeEmail(ctx context.Context, emailText string) (string, error)
	EmbedContent(ctx context.Context, text string) ([]float32, error)
}

// Engine implements retrieval-augmented summarization and reply drafting
// over a per-tenant knowledge base.
type Engine struct {
	items   knowledgerepo.KnowledgeRepository
	vectors VectorStore
	ai      AIService
	topK    int
}

func NewEngine(items knowledgerepo.KnowledgeRepository, vectors VectorStore, ai AIService, topK int) *Engine {
	if topK <= 0 {
		topK = 3
	}
	return &Engine{
		items:   items,
		vectors: vectors,
		ai:      ai,
		topK:    topK,
	}
}

// Summarize produces the action-item summary of an email body.
func (e *Engine) Summarize(ctx context.Context, body string) (string, error) {
	return e.ai.SummarizeEmail(ctx, body)
}

// Retrieve returns the tenant's most relevant knowledge items for a query,
// ordered by similarity. The vector index is already filtered by tenant;
// the tenant check on the returned rows is a second gate so a stale or
// mislabeled index entry can never leak another tenant's content.
func (e *Engine) Retrieve(ctx context.Context, tenantID, query string) ([]*knowledgedomain.KnowledgeItem, error) {
	ids, _, err := e.vectors.QueryKnowledge(ctx, tenantID, query, e.topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge retrieval failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := e.items.FindByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*knowledgedomain.KnowledgeItem, len(rows))
	for _, row := range rows {
		if row.TenantID != tenantID {
			continue
		}
		byID[row.ID] = row
	}

	// Preserve the similarity ranking from the index.
	ordered := make([]*knowledgedomain.KnowledgeItem, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	return ordered, nil
}

// GenerateReply drafts a reply to an email grounded in the tenant's
// knowledge base.
func (e *Engine) GenerateReply(ctx context.Context, tenantID, body string) (string, error) {
	items, err := e.Retrieve(ctx, tenantID, body)
	if err != nil {
		return "", err
	}

	retrievedKnowledge := "No specific knowledge found."
	if len(items) > 0 {
		var snippets []string
		for _, item := range items {
			snippets = append(snippets, fmt.Sprintf("- Regarding %q: %s", item.Topic, item.Content))
		}
		retrievedKnowledge = strings.Join(snippets, "\n")
	}

	prompt := fmt.Sprintf(`You are a helpful personal assistant drafting an email reply.
Your tone should be professional, friendly, and concise.
Analyze the original email and use the provided personal knowledge base to draft a relevant and helpful response.
Do not invent information. If the knowledge base doesn't provide an answer, state that you don't have the information on hand.

**Personal Knowledge Base Snippets:**
---
%s
---

**Original Email to Reply To:**
---
%s
---

**Draft your reply below:**`, retrievedKnowledge, body)

	return e.ai.GenerateContent(ctx, prompt)
}

// AddKnowledgeItem persists a knowledge item and indexes it for retrieval.
// The embedding is computed once, stored alongside the row, and handed to
// the index, so the item is never embedded twice.
func (e *Engine) AddKnowledgeItem(ctx context.Context, item *knowledgedomain.KnowledgeItem) error {
	if strings.TrimSpace(item.Topic) == "" || strings.TrimSpace(item.Content) == "" {
		return fmt.Errorf("knowledge item requires both topic and content")
	}

	vector, err := e.ai.EmbedContent(ctx, fmt.Sprintf("Topic: %s\n\n%s", item.Topic, item.Content))
	if err != nil {
		return fmt.Errorf("failed to embed knowledge item: %w", err)
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	item.Embedding = raw

	if err := e.items.Create(item); err != nil {
		return err
	}
	if err := e.vectors.UpsertKnowledge(ctx, item.ID, item.TenantID, item.Topic, item.Content, vector); err != nil {
		// The row exists but is not searchable yet. Surface the error so
		// the caller can retry the indexing.
		return fmt.Errorf("knowledge item saved but indexing failed: %w", err)
	}
	return nil
}

// FindKnowledgeItem returns a single knowledge item, or nil if absent.
func (e *Engine) FindKnowledgeItem(id string) (*knowledgedomain.KnowledgeItem, error) {
	return e.items.FindByID(id)
}

// ListKnowledge returns all of a tenant's knowledge items.
func (e *Engine) ListKnowledge(tenantID string) ([]*knowledgedomain.KnowledgeItem, error) {
	return e.items.ListByTenant(tenantID)
}

// DeleteKnowledgeItem removes a knowledge item from both stores.
func (e *Engine) DeleteKnowledgeItem(ctx context.Context, id string) error {
	if err := e.vectors.DeleteKnowledge(ctx, id); err != nil {
		return fmt.Errorf("failed to remove knowledge item from index: %w", err)
	}
	return e.items.Delete(id)
}
