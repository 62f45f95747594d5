package llm

import (
	"context"
	"fmt"

	"github.com/RichardoC/forumtech/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// SystemPrompt is prepended to every conversation sent to the provider.
const SystemPrompt = "Tu es un assistant IA serviable pour un blog et forum tech francophone. " +
	"Tu aides les utilisateurs avec leurs questions sur le développement web, les technologies et les sujets du blog. " +
	"Réponds en français de manière claire et concise."

// Sampling parameters are fixed for every request.
const (
	Temperature = 0.7
	MaxTokens   = 1024
)

// ChunkFunc receives each text fragment in arrival order. Returning an error
// aborts generation.
type ChunkFunc func(ctx context.Context, chunk string) error

type Service struct {
	llm     llms.Model
	initErr error
	logger  *zap.Logger
}

// New connects to an OpenAI-compatible endpoint.
func New(baseURL, token, model string, logger *zap.Logger) (*Service, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return NewWithModel(llm, logger), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, logger *zap.Logger) *Service {
	return &Service{llm: model, logger: logger}
}

// Unavailable returns a Service whose every call fails with err. The server
// uses it when the provider client cannot be built, so that the failure
// reaches chat callers instead of preventing startup.
func Unavailable(err error, logger *zap.Logger) *Service {
	return &Service{initErr: err, logger: logger}
}

// BuildMessages converts a conversation to provider messages with the system
// directive in front. The order of msgs is kept.
func BuildMessages(msgs []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs)+1)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt))
	for _, m := range msgs {
		out = append(out, llms.TextParts(messageType(m.Role), m.Content))
	}
	return out
}

func messageType(r models.Role) llms.ChatMessageType {
	switch r {
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// StreamChat runs one streamed completion. Fragments go to onChunk as they
// arrive; the returned string is the full completion as reported by the
// provider. Provider errors are returned unwrapped so their text survives
// classification.
func (s *Service) StreamChat(ctx context.Context, msgs []models.Message, onChunk ChunkFunc) (string, error) {
	if s.initErr != nil {
		return "", s.initErr
	}

	s.logger.Debug("Calling provider",
		zap.Int("messages", len(msgs)),
		zap.Float64("temperature", Temperature),
		zap.Int("maxTokens", MaxTokens))

	resp, err := s.llm.GenerateContent(ctx, BuildMessages(msgs),
		llms.WithTemperature(Temperature),
		llms.WithMaxTokens(MaxTokens),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onChunk(ctx, string(chunk))
		}),
	)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	return resp.Choices[0].Content, nil
}
