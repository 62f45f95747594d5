package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apierrors "github.com/RichardoC/forumtech/internal/errors"
	"github.com/RichardoC/forumtech/internal/models"
	"github.com/RichardoC/forumtech/internal/stream"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// maxChatBody caps the size of a conversation payload.
const maxChatBody = 1 << 20

// decodeChatRequest checks that body is a JSON object whose "messages" field
// is an array of well-formed messages.
func decodeChatRequest(body []byte) ([]models.Message, *apierrors.ChatError) {
	if !gjson.ValidBytes(body) {
		return nil, apierrors.NewInvalidInput(fmt.Errorf("body is not valid JSON"))
	}
	field := gjson.GetBytes(body, "messages")
	if !field.Exists() {
		return nil, apierrors.NewInvalidInput(fmt.Errorf("messages field is missing"))
	}
	if !field.IsArray() {
		return nil, apierrors.NewInvalidInput(fmt.Errorf("messages field is not an array"))
	}

	var msgs []models.Message
	if err := json.Unmarshal([]byte(field.Raw), &msgs); err != nil {
		return nil, apierrors.NewInvalidInput(err)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, apierrors.NewInvalidInput(fmt.Errorf("message %d has no role", i))
		}
	}
	return msgs, nil
}

// HandleChat streams a model completion for the posted conversation.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Méthode non autorisée", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err != nil {
		h.logger.Warn("Failed to read chat request", zap.Error(err))
		writeChatError(w, apierrors.NewInvalidInput(err))
		return
	}

	msgs, chatErr := decodeChatRequest(body)
	if chatErr != nil {
		h.logger.Info("Rejected chat request", zap.Error(chatErr))
		writeChatError(w, chatErr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.maxDuration)
	defer cancel()

	sw := stream.NewWriter(w)
	chunks := 0
	full, err := h.llm.StreamChat(ctx, msgs, func(_ context.Context, chunk string) error {
		chunks++
		return sw.WriteText(chunk)
	})
	if err != nil {
		ce := apierrors.Classify(err)
		h.logger.Error("Chat API error",
			zap.Error(err),
			zap.Stringer("kind", ce.Kind),
			zap.Int("messages", len(msgs)),
			zap.Int("chunks", chunks))

		if !sw.Started() {
			writeChatError(w, ce)
			return
		}
		if werr := sw.WriteError(ce.Message); werr != nil {
			h.logger.Info("Client went away before error part", zap.Error(werr))
		}
		return
	}

	// Some providers ignore the streaming callback and only return the final
	// text.
	if chunks == 0 && full != "" {
		if err := sw.WriteText(full); err != nil {
			h.logger.Info("Client went away", zap.Error(err))
			return
		}
	}
	if err := sw.Finish(stream.FinishStop); err != nil {
		h.logger.Info("Client went away before finish", zap.Error(err))
		return
	}

	h.logger.Debug("Chat completed", zap.Int("messages", len(msgs)), zap.Int("chunks", chunks))
}

func writeChatError(w http.ResponseWriter, err *apierrors.ChatError) {
	http.Error(w, err.Message, err.StatusCode())
}
