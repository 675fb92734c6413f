// Package ai wraps the OpenAI API used for chat completion, embeddings and
// audio transcription.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/marvinli001/project-yuzuriha/internal/config"
)

const systemPrompt = `You are Yuzuriha, an AI assistant with memory capabilities.
You are helpful, knowledgeable, and can remember past conversations.

Guidelines:
- Be conversational and friendly
- Use the provided context and memories to give relevant responses
- If you remember something from a past conversation, mention it naturally
- Be concise but thorough
- Always aim to be helpful and accurate`

// Service encapsulates completion, embedding and transcription calls.
type Service struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	log            zerolog.Logger
}

// NewService creates the OpenAI-backed AI service.
func NewService(cfg config.OpenAIConfig, log zerolog.Logger) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Service{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		log:            log,
	}, nil
}

// HealthCheck reports whether the API is reachable with the configured
// credential.
func (s *Service) HealthCheck(ctx context.Context) bool {
	if _, err := s.client.ListModels(ctx); err != nil {
		s.log.Warn().Err(err).Msg("openai health check failed")
		return false
	}
	return true
}

// GenerateResponse runs one chat completion with the assembled context.
func (s *Service) GenerateResponse(ctx context.Context, message, contextBlock string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if contextBlock != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Context: " + contextBlock,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// StreamResponse opens a token stream for the same completion request.
// The caller owns the stream and must Close it.
func (s *Service) StreamResponse(ctx context.Context, message, contextBlock string) (*openai.ChatCompletionStream, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if contextBlock != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Context: " + contextBlock,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   2000,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}
	return stream, nil
}

// GenerateEmbeddings returns the embedding vector for one text.
func (s *Service) GenerateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: s.embeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	return resp.Data[0].Embedding, nil
}

// Transcribe runs Whisper speech-to-text over the supplied audio.
func (s *Service) Transcribe(ctx context.Context, audio io.Reader, filename, language string) (string, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   audio,
		FilePath: filename,
		Language: language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return resp.Text, nil
}

// IsAuthError reports whether err is a credential failure from the API.
func IsAuthError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized
	}
	return false
}
