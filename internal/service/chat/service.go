// Package chat wires the chat request pipeline: memory retrieval, prompt
// context assembly, model completion, then asynchronous persistence into the
// vector store and the conversation history.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marvinli001/project-yuzuriha/internal/metrics"
	chatmodel "github.com/marvinli001/project-yuzuriha/internal/model/chat"
	"github.com/marvinli001/project-yuzuriha/internal/service/memory"
)

// Generator produces a model completion for a message plus context block.
type Generator interface {
	GenerateResponse(ctx context.Context, message, contextBlock string) (string, error)
}

// MemoryStore is the slice of the vector memory service the pipeline needs.
type MemoryStore interface {
	SearchSimilar(ctx context.Context, query string, limit int) ([]memory.Memory, error)
	StoreConversation(ctx context.Context, userMessage, assistantResponse, timestamp string) error
}

// Recorder appends messages to a conversation session.
type Recorder interface {
	AddMessage(ctx context.Context, sessionID, role, content string) (chatmodel.Message, error)
}

const (
	memorySearchLimit = 5
	contextMemories   = 3
	contextHistory    = 5

	// Budget for the fire-and-forget persistence writes after a response
	// has already been returned to the caller.
	persistTimeout = 30 * time.Second
)

// Service runs the chat pipeline.
type Service struct {
	generator Generator
	memory    MemoryStore
	history   Recorder
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewService creates the pipeline. memory and history may be nil, in which
// case the corresponding persistence step is skipped.
func NewService(generator Generator, memoryStore MemoryStore, history Recorder, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		generator: generator,
		memory:    memoryStore,
		history:   history,
		metrics:   m,
		log:       log,
	}
}

// Chat runs one full turn: search memories, build the context block, call the
// model, then persist both turns in the background. Memory search failures
// are tolerated; the completion proceeds without retrieved memories.
func (s *Service) Chat(ctx context.Context, req chatmodel.ChatRequest) (chatmodel.ChatResponse, error) {
	contextBlock := s.ContextFor(ctx, req)

	start := time.Now()
	response, err := s.generator.GenerateResponse(ctx, req.Message, contextBlock)
	if s.metrics != nil {
		s.metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.ChatRequestsTotal.WithLabelValues("error").Inc()
		}
		return chatmodel.ChatResponse{}, fmt.Errorf("completion failed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ChatRequestsTotal.WithLabelValues("success").Inc()
	}

	s.Record(req, response)

	return chatmodel.ChatResponse{
		Response:     response,
		MemoryStored: s.memory != nil,
	}, nil
}

// ContextFor returns the prompt context block for a request, including any
// retrieved memories. A failed memory search degrades to a memoryless block.
func (s *Service) ContextFor(ctx context.Context, req chatmodel.ChatRequest) string {
	var memories []memory.Memory
	if s.memory != nil {
		found, err := s.memory.SearchSimilar(ctx, req.Message, memorySearchLimit)
		if err != nil {
			s.log.Warn().Err(err).Msg("memory search failed, continuing without memories")
		} else {
			memories = found
		}
	}
	return buildContext(memories, req.History)
}

// MemoryEnabled reports whether a vector store backs this pipeline.
func (s *Service) MemoryEnabled() bool {
	return s.memory != nil
}

// Record stores the exchange in the vector memory and, when a session is
// given, the conversation history. Both writes run detached from the request
// so a slow store never delays the reply.
func (s *Service) Record(req chatmodel.ChatRequest, response string) {
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05")

	if s.memory != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()

			if err := s.memory.StoreConversation(ctx, req.Message, response, timestamp); err != nil {
				s.log.Warn().Err(err).Msg("failed to store conversation memory")
				if s.metrics != nil {
					s.metrics.MemoryWritesTotal.WithLabelValues("error").Inc()
				}
				return
			}
			if s.metrics != nil {
				s.metrics.MemoryWritesTotal.WithLabelValues("success").Inc()
			}
		}()
	}

	if s.history != nil && req.SessionID != "" {
		sessionID := req.SessionID
		message := req.Message
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()

			if _, err := s.history.AddMessage(ctx, sessionID, chatmodel.RoleUser, message); err != nil {
				s.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to record user message")
				return
			}
			if _, err := s.history.AddMessage(ctx, sessionID, chatmodel.RoleAssistant, response); err != nil {
				s.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to record assistant message")
			}
		}()
	}
}

// buildContext assembles the prompt context block: current time, the most
// relevant memories, and the tail of the conversation so far.
func buildContext(memories []memory.Memory, history []chatmodel.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current time: %s UTC\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
	b.WriteString("Current user: marvinli001\n\n")

	if len(memories) > 0 {
		b.WriteString("Relevant memories:\n")
		limit := contextMemories
		if len(memories) < limit {
			limit = len(memories)
		}
		for _, m := range memories[:limit] {
			b.WriteString("- " + m.Text + "\n")
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		tail := history
		if len(tail) > contextHistory {
			tail = tail[len(tail)-contextHistory:]
		}
		for _, msg := range tail {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
	}

	return b.String()
}
