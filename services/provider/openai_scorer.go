package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const scorerSystemPrompt = `You compare a rendered screenshot against a design baseline. Respond with
ONLY a JSON object {"layout": x, "style": x, "a11y": x, "perceptual": x}
where every value is a number between 0 and 1.`

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// OpenAIScorer is a Scorer backed by an OpenAI vision-capable model.
type OpenAIScorer struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAIScorer creates a vision scorer from the environment.
//
// Reads OPENAI_API_KEY (required) and VIBEFORGE_SCORER_MODEL (defaults to
// gpt-4o).
func NewOpenAIScorer() (*OpenAIScorer, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		slog.Error("OPENAI_API_KEY environment variable not set")
		return nil, ErrMissingAPIKey
	}
	model := os.Getenv("VIBEFORGE_SCORER_MODEL")
	if model == "" {
		model = "gpt-4o"
	}
	slog.Info("Initializing vision scorer", "model", model)
	return &OpenAIScorer{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(1), 2),
	}, nil
}

// Score implements the Scorer interface.
//
// A malformed or unparsable response degrades to FallbackScores rather than
// failing the iteration; the scorer is advisory, the loop must keep moving.
func (s *OpenAIScorer) Score(ctx context.Context, req ScoreRequest) (Scores, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Scores{}, err
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scorerSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Baseline design:"},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: pngDataURL(req.BaselinePNG)}},
					{Type: openai.ChatMessagePartTypeText, Text: "Rendered candidate:"},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: pngDataURL(req.CandidatePNG)}},
					{Type: openai.ChatMessagePartTypeText, Text: "Design IR summary:\n" + req.IRSummary},
				},
			},
		},
	})
	if err != nil {
		return Scores{}, fmt.Errorf("scoring API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Scorer returned no choices, falling back to neutral scores")
		return FallbackScores(), nil
	}

	return ParseScores(resp.Choices[0].Message.Content), nil
}

// ParseScores extracts a score vector from a model response.
//
// Values are clamped into [0, 1]. Any parse failure returns FallbackScores;
// the caller cannot distinguish a malformed response from a genuinely
// neutral one, which is the intended degradation.
func ParseScores(raw string) Scores {
	match := jsonObjectRe.FindString(stripFence(strings.TrimSpace(raw)))
	if match == "" {
		slog.Warn("Scorer response contained no JSON object")
		return FallbackScores()
	}

	var parsed struct {
		Layout     *float64 `json:"layout"`
		Style      *float64 `json:"style"`
		A11y       *float64 `json:"a11y"`
		Perceptual *float64 `json:"perceptual"`
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		slog.Warn("Scorer response JSON invalid", "error", err)
		return FallbackScores()
	}
	if parsed.Layout == nil || parsed.Style == nil || parsed.A11y == nil || parsed.Perceptual == nil {
		slog.Warn("Scorer response missing a dimension")
		return FallbackScores()
	}

	return Scores{
		Layout:     clamp01(*parsed.Layout),
		Style:      clamp01(*parsed.Style),
		A11y:       clamp01(*parsed.A11y),
		Perceptual: clamp01(*parsed.Perceptual),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func pngDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
