// Package memory is the semantic memory layer. Conversations are embedded
// and stored in a Qdrant collection; retrieval is cosine similarity over the
// embedding space.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	"github.com/marvinli001/project-yuzuriha/internal/config"
)

// Dimension of text-embedding-3-small vectors; the collection schema is
// fixed to it.
const embeddingDim = 1536

const memoryOwner = "marvinli001"

// Memory types stored in point payloads.
const (
	TypeUserMessage      = "user_message"
	TypeAssistantMessage = "assistant_message"
)

// Memory is one retrieved memory entry.
type Memory struct {
	ID        string  `json:"id,omitempty"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Score     float32 `json:"score,omitempty"`
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// Service stores and searches conversation memories.
type Service struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
	log        zerolog.Logger
}

// NewService creates the Qdrant-backed memory service.
func NewService(cfg config.VectorConfig, embedder Embedder, log zerolog.Logger) (*Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	rawURL := cfg.URL
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &Service{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
		log:        log,
	}, nil
}

// Init ensures the memory collection exists.
func (s *Service) Init(ctx context.Context) error {
	return s.ensureCollection(ctx)
}

func (s *Service) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     embeddingDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	s.log.Info().Str("collection", s.collection).Msg("created memory collection")
	return nil
}

// HealthCheck reports whether the collection is reachable.
func (s *Service) HealthCheck(ctx context.Context) bool {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		s.log.Warn().Err(err).Msg("qdrant health check failed")
		return false
	}
	return exists
}

// StoreConversation embeds both turns of an exchange and upserts them as two
// points.
func (s *Service) StoreConversation(ctx context.Context, userMessage, assistantResponse, timestamp string) error {
	userVec, err := s.embedder.GenerateEmbeddings(ctx, userMessage)
	if err != nil {
		return err
	}
	assistantVec, err := s.embedder.GenerateEmbeddings(ctx, assistantResponse)
	if err != nil {
		return err
	}

	points := []*qdrant.PointStruct{
		{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(userVec...),
			Payload: qdrant.NewValueMap(map[string]any{
				"text":      "User: " + userMessage,
				"timestamp": timestamp,
				"type":      TypeUserMessage,
				"user_id":   memoryOwner,
			}),
		},
		{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(assistantVec...),
			Payload: qdrant.NewValueMap(map[string]any{
				"text":      "Assistant: " + assistantResponse,
				"timestamp": timestamp,
				"type":      TypeAssistantMessage,
				"user_id":   memoryOwner,
			}),
		},
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}

	return nil
}

// SearchSimilar returns the memories most similar to query.
func (s *Service) SearchSimilar(ctx context.Context, query string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 5
	}

	vector, err := s.embedder.GenerateEmbeddings(ctx, query)
	if err != nil {
		return nil, err
	}

	limitUint64 := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	memories := make([]Memory, 0, len(points))
	for _, point := range points {
		memory := Memory{Score: point.Score}
		if point.Id != nil {
			memory.ID = point.Id.GetUuid()
		}
		fillFromPayload(&memory, point.Payload)
		memories = append(memories, memory)
	}
	return memories, nil
}

// RecentMemories scrolls stored memories, newest first.
func (s *Service) RecentMemories(ctx context.Context, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 50
	}

	limitUint32 := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Limit:          &limitUint32,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	memories := make([]Memory, 0, len(points))
	for _, point := range points {
		memory := Memory{}
		if point.Id != nil {
			memory.ID = point.Id.GetUuid()
		}
		fillFromPayload(&memory, point.Payload)
		memories = append(memories, memory)
	}

	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Timestamp > memories[j].Timestamp
	})
	return memories, nil
}

// ClearAll drops and recreates the collection.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return s.ensureCollection(ctx)
}

// Close releases the underlying gRPC connection.
func (s *Service) Close() error {
	return s.client.Close()
}

func fillFromPayload(memory *Memory, payload map[string]*qdrant.Value) {
	for key, value := range payload {
		switch key {
		case "text":
			memory.Text = value.GetStringValue()
		case "timestamp":
			memory.Timestamp = value.GetStringValue()
		case "type":
			memory.Type = value.GetStringValue()
		}
	}
}
