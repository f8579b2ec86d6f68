package chroma

import (
	"context"
	"fmt"
	"log"
	"os"

	"replypilot-backend/pkg/config"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

// ChromaClient holds the tenant-scoped knowledge collection. Query-time
// vectors come from the collection's Gemini embedding function, the same
// model callers use when they supply a vector at ingestion, so stored and
// query vectors share a dimension.
type ChromaClient struct {
	client     chroma.Client
	embedFunc  *gemini.GeminiEmbeddingFunction
	config     *config.Config
	collection chroma.Collection
}

func NewChromaClient(cfg *config.Config) (*ChromaClient, error) {
	if cfg.ChromaAPIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}

	// Set environment variable for Gemini API key if needed
	if cfg.GeminiApiKey != "" {
		os.Setenv("GEMINI_API_KEY", cfg.GeminiApiKey)
	}

	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel("text-embedding-004"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	var client chroma.Client
	if cfg.ChromaDatabase != "" && cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant),
		)
	} else if cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithTenant(cfg.ChromaTenant),
		)
	} else {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	ctx := context.Background()
	collection, err := client.GetOrCreateCollection(
		ctx,
		"knowledge",
		chroma.WithEmbeddingFunctionCreate(embedFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	log.Printf("Initialized Chroma client with collection: knowledge")

	return &ChromaClient{
		client:     client,
		embedFunc:  embedFunc,
		config:     cfg,
		collection: collection,
	}, nil
}

// UpsertKnowledge indexes one knowledge item under its tenant. Using the item
// ID as the document ID makes the operation idempotent. When the caller
// already holds a vector it is stored as-is; otherwise the collection's
// embedding function computes one from the text.
func (c *ChromaClient) UpsertKnowledge(ctx context.Context, itemID, tenantID, topic, content string, vector []float32) error {
	text := fmt.Sprintf("Topic: %s\n\n%s", topic, content)
	if len(text) > 10000 {
		// Truncate if too long (embedding models have token limits)
		text = text[:10000]
	}

	metadata, err := chroma.NewDocumentMetadataFromMap(map[string]interface{}{
		"tenant_id": tenantID,
		"topic":     topic,
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	if len(vector) > 0 {
		err = c.collection.Upsert(
			ctx,
			chroma.WithIDs(chroma.DocumentID(itemID)),
			chroma.WithMetadatas(metadata),
			chroma.WithTexts(text),
			chroma.WithEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		)
	} else {
		err = c.collection.Upsert(
			ctx,
			chroma.WithIDs(chroma.DocumentID(itemID)),
			chroma.WithMetadatas(metadata),
			chroma.WithTexts(text),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge embedding: %w", err)
	}

	return nil
}

// QueryKnowledge returns item IDs and distances for the top matches within a
// single tenant, ordered by ascending distance. The tenant filter is applied
// inside the vector store; results never cross tenants.
func (c *ChromaClient) QueryKnowledge(ctx context.Context, tenantID, query string, limit int) ([]string, []float64, error) {
	if c.collection == nil {
		return nil, nil, fmt.Errorf("collection is nil")
	}

	where := chroma.EqString("tenant_id", tenantID)

	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryTexts(query),
		chroma.WithNResults(limit),
		chroma.WithWhereQuery(where),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query collection: %w", err)
	}

	if results == nil || results.CountGroups() == 0 {
		return []string{}, []float64{}, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()

	if len(idGroups) == 0 || len(idGroups[0]) == 0 {
		return []string{}, []float64{}, nil
	}

	itemIDs := make([]string, 0, len(idGroups[0]))
	for _, id := range idGroups[0] {
		itemIDs = append(itemIDs, string(id))
	}

	distances := []float64{}
	if len(distanceGroups) > 0 && len(distanceGroups[0]) > 0 {
		for _, d := range distanceGroups[0] {
			distances = append(distances, float64(d))
		}
	}

	return itemIDs, distances, nil
}

// DeleteKnowledge removes an item from the index.
func (c *ChromaClient) DeleteKnowledge(ctx context.Context, itemID string) error {
	err := c.collection.Delete(ctx, chroma.WithIDsDelete(chroma.DocumentID(itemID)))
	if err != nil {
		return fmt.Errorf("failed to delete knowledge embedding: %w", err)
	}
	return nil
}
