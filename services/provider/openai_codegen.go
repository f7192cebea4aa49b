package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// codeGenSystemPrompt pins the response contract the parser expects.
const codeGenSystemPrompt = `You are a senior frontend engineer. You receive a design IR, the current
workspace, the previous attempt's score, and a patch plan. Respond with ONE
<files> block containing <file path="..."> entries with complete file
contents, or ONE <patch> block containing a unified diff. Never modify
locked nodes. Respect the plan's change budgets and disallowed changes.`

// OpenAICodeGen is a CodeGenerator backed by the OpenAI chat API.
type OpenAICodeGen struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAICodeGen creates a code-gen provider from the environment.
//
// Reads OPENAI_API_KEY (required) and VIBEFORGE_CODEGEN_MODEL (defaults to
// gpt-4o). All callers share one rate limiter so a tight refinement loop
// cannot hammer the API.
func NewOpenAICodeGen() (*OpenAICodeGen, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		slog.Error("OPENAI_API_KEY environment variable not set")
		return nil, ErrMissingAPIKey
	}
	model := os.Getenv("VIBEFORGE_CODEGEN_MODEL")
	if model == "" {
		model = "gpt-4o"
		slog.Warn("VIBEFORGE_CODEGEN_MODEL not set, defaulting to gpt-4o")
	}
	slog.Info("Initializing code-gen provider", "model", model)
	return &OpenAICodeGen{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(0.5), 2),
	}, nil
}

// Generate implements the CodeGenerator interface.
func (g *OpenAICodeGen) Generate(ctx context.Context, req CodeGenRequest) (*CodeGenResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	slog.Debug("Generating code", "model", g.model)
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: codeGenSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("code-gen API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	result, err := ParseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	slog.Debug("Code-gen response parsed",
		"files", len(result.Files),
		"patch", result.Patch != "",
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return result, nil
}

// buildPrompt assembles the user prompt sections in a fixed order so the
// model sees a stable layout across iterations.
func buildPrompt(req CodeGenRequest) string {
	var b strings.Builder
	b.WriteString("## Design IR\n")
	b.WriteString(req.IRSummary)
	b.WriteString("\n\n## Workspace files\n")
	for _, path := range req.WorkspaceFiles {
		b.WriteString("- ")
		b.WriteString(path)
		b.WriteString("\n")
	}
	if req.PreviousCode != "" {
		b.WriteString("\n## Previous attempt\n")
		b.WriteString(req.PreviousCode)
		b.WriteString("\n")
	}
	if req.PreviousScore != nil {
		fmt.Fprintf(&b, "\n## Previous score\nlayout=%.2f style=%.2f a11y=%.2f perceptual=%.2f\n",
			req.PreviousScore.Layout, req.PreviousScore.Style, req.PreviousScore.A11y, req.PreviousScore.Perceptual)
	}
	if req.PlanText != "" {
		b.WriteString("\n## Patch plan\n")
		b.WriteString(req.PlanText)
		b.WriteString("\n")
	}
	if req.OverflowText != "" {
		b.WriteString("\n## Overflow offenders\n")
		b.WriteString(req.OverflowText)
		b.WriteString("\n")
	}
	return b.String()
}
