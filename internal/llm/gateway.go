package llm

import (
	"context"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/seleneai/selene/internal/logger"
	"github.com/seleneai/selene/internal/session"
)

// Result is a successful completion. StoppedNaturally is false when the
// model hit a length cap or other forced cutoff, signaling the caller to run
// the repair pass.
type Result struct {
	Text             string
	StoppedNaturally bool
}

// Gateway sends an assembled message list plus sampling parameters to the
// remote completion API.
type Gateway interface {
	Generate(ctx context.Context, turns []session.Turn, params session.Params) (Result, error)
}

// OpenAIGateway is the production Gateway over an OpenAI-compatible API.
type OpenAIGateway struct {
	client  Client
	timeout time.Duration
}

// NewGateway wraps a completion client. A non-positive timeout disables the
// per-call deadline.
func NewGateway(client Client, timeout time.Duration) *OpenAIGateway {
	return &OpenAIGateway{client: client, timeout: timeout}
}

// Generate performs one completion round trip. Every failure is returned as
// a classified *Error; an upstream success with no usable text counts as a
// failure and is never surfaced as a Result.
func (g *OpenAIGateway) Generate(ctx context.Context, turns []session.Turn, params session.Params) (Result, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:            params.Model,
		Messages:         toMessages(turns),
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		MaxTokens:        params.MaxTokens,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		classified := Classify(err)
		logger.L.Error("completion call failed", "category", classified.Category, "error", err)
		return Result{}, classified
	}
	if len(resp.Choices) == 0 {
		logger.L.Error("completion returned no choices")
		return Result{}, &Error{Category: CategoryEmptyCompletion, Detail: "response contained no choices"}
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		logger.L.Error("completion returned empty content", "finish_reason", choice.FinishReason)
		return Result{}, &Error{Category: CategoryEmptyCompletion, Detail: "response contained empty content"}
	}

	return Result{
		Text:             text,
		StoppedNaturally: choice.FinishReason == openai.FinishReasonStop,
	}, nil
}

func toMessages(turns []session.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, len(turns))
	for i, t := range turns {
		msgs[i] = openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content}
	}
	return msgs
}
